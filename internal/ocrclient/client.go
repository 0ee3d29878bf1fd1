package ocrclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Engine распознаёт изображение из объектного хранилища. Реализация подменяется в тестах.
type Engine interface {
	Recognize(ctx context.Context, bucket, objectKey string) (*Result, error)
}

// Client ходит во внешний OCR-сервис: POST {baseURL}/ocr.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient возвращает клиент. Если baseURL пустой, Enabled() == false.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

type recognizeRequest struct {
	Bucket    string `json:"bucket"`
	ObjectKey string `json:"object_key"`
}

// RawText: одна распознанная строка с координатами.
type RawText struct {
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence"`
	BBox       json.RawMessage `json:"bbox,omitempty"`
}

// Result: ответ движка. Texts уже сведены к ключ -> текст.
type Result struct {
	Texts          map[string]string `json:"-"`
	RawTexts       []RawText         `json:"raw_texts"`
	Confidence     float64           `json:"confidence"`
	ProcessingTime float64           `json:"processing_time"`
	Boxes          json.RawMessage   `json:"boxes,omitempty"`
}

// JoinedText склеивает сырые строки через перевод строки.
func (r *Result) JoinedText() string {
	lines := make([]string, 0, len(r.RawTexts))
	for _, t := range r.RawTexts {
		lines = append(lines, t.Text)
	}
	return strings.Join(lines, "\n")
}

func (r *Result) UnmarshalJSON(data []byte) error {
	type plain Result
	var aux struct {
		plain
		Texts json.RawMessage `json:"texts"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Result(aux.plain)
	texts, err := decodeTexts(aux.Texts)
	if err != nil {
		return err
	}
	r.Texts = texts
	return nil
}

// decodeTexts принимает как объект key -> value, так и пустой список (движок так отвечает, когда текста нет).
func decodeTexts(raw json.RawMessage) (map[string]string, error) {
	out := map[string]string{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" || trimmed[0] == '[' {
		return out, nil
	}
	var m map[string]any
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, fmt.Errorf("ocr texts: %w", err)
	}
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out, nil
}

func (c *Client) Recognize(ctx context.Context, bucket, objectKey string) (*Result, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ocrclient: base url is not configured")
	}
	body, err := json.Marshal(recognizeRequest{Bucket: bucket, ObjectKey: objectKey})
	if err != nil {
		return nil, fmt.Errorf("ocrclient: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ocrclient: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocrclient: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ocrclient: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ocrclient: decode: %w", err)
	}
	return &out, nil
}
