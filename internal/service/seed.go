package service

import (
	"context"
	"errors"

	"github.com/psds-microservice/ticketform-service/internal/errs"
	"github.com/psds-microservice/ticketform-service/internal/formschema"
	"github.com/psds-microservice/ticketform-service/internal/model"
)

const ComplaintTypeName = "complaint"

func intPtr(v int) *int { return &v }

func complaintFields() []FieldInput {
	return []FieldInput{
		{Name: "complaint_number", Label: "Complaint Number", Type: formschema.TypeText, DisplayOrder: intPtr(1)},
		{Name: "district", Label: "District", Type: formschema.TypeText, DisplayOrder: intPtr(2)},
		{Name: "complainant_name", Label: "Complainant Name", Type: formschema.TypeText, Required: true, DisplayOrder: intPtr(3)},
		{Name: "phone", Label: "Contact Phone", Type: formschema.TypeText, DisplayOrder: intPtr(4)},
		{Name: "address", Label: "Address", Type: formschema.TypeTextarea, DisplayOrder: intPtr(5)},
		{Name: "complaint_type", Label: "Complaint Type", Type: formschema.TypeSelect, DisplayOrder: intPtr(6),
			Options: []string{"信号问题", "网络故障", "服务问题", "其他"}},
		{Name: "complaint_content", Label: "Complaint Content", Type: formschema.TypeTextarea, Required: true, DisplayOrder: intPtr(7)},
		{Name: "handling_status", Label: "Handling Status", Type: formschema.TypeSelect, DisplayOrder: intPtr(8),
			Options: []string{"待处理", "处理中", "已完成", "已取消"}},
		{Name: "test_results", Label: "Test Results", Type: formschema.TypeArray, DisplayOrder: intPtr(9),
			ArrayFields: []formschema.SubField{
				{Name: "pci", Label: "PCI", Type: formschema.TypeNumber},
				{Name: "frequency", Label: "Frequency", Type: formschema.TypeNumber},
				{Name: "cell_id", Label: "Cell ID", Type: formschema.TypeText},
				{Name: "rsrp", Label: "RSRP (dBm)", Type: formschema.TypeNumber},
				{Name: "sinr", Label: "SINR (dB)", Type: formschema.TypeNumber},
				{Name: "uplink_rate", Label: "Uplink Rate (Mbps)", Type: formschema.TypeNumber},
				{Name: "downlink_rate", Label: "Downlink Rate (Mbps)", Type: formschema.TypeNumber},
				{Name: "interference_level", Label: "Interference Level", Type: formschema.TypeSelect, Options: []string{"低", "中", "高"}},
				{Name: "notes", Label: "Notes", Type: formschema.TypeTextarea},
			}},
	}
}

// SeedComplaintType создаёт тип "complaint" с полями жалобы на 5G-сеть.
// Повторный запуск ничего не меняет; created == false, если тип уже был.
func (s *SchemaService) SeedComplaintType(ctx context.Context) (tt *model.TicketType, created bool, err error) {
	tt, err = s.GetTicketTypeByName(ctx, ComplaintTypeName)
	if err == nil {
		return tt, false, nil
	}
	if !errors.Is(err, errs.ErrTicketTypeNotFound) {
		return nil, false, err
	}
	tt, err = s.CreateTicketType(ctx, CreateTicketTypeInput{
		Name:        ComplaintTypeName,
		Description: "5G network complaint tickets",
	})
	if err != nil {
		return nil, false, err
	}
	for _, f := range complaintFields() {
		if _, err := s.AddField(ctx, tt.ID, f); err != nil {
			return nil, false, err
		}
	}
	tt, err = s.GetTicketType(ctx, tt.ID)
	return tt, true, err
}
