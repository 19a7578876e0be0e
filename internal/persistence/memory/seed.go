package memory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"example.com/tracking/internal/domain"
)

type seedFile struct {
	Deliveries []seedDelivery `yaml:"deliveries" validate:"dive"`
}

type seedDelivery struct {
	ID            string `yaml:"id" validate:"required"`
	TransporterID string `yaml:"transporter_id" validate:"required"`
	Status        string `yaml:"status"`
}

// LoadSeed reads the deliveries listed in a YAML fixture:
//
//	deliveries:
//	  - id: D1
//	    transporter_id: transporter-1
//	    status: in_transit
func LoadSeed(path string) ([]domain.Delivery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var file seedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("invalid seed file %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(file.Deliveries))
	out := make([]domain.Delivery, 0, len(file.Deliveries))
	for _, d := range file.Deliveries {
		if _, dup := seen[d.ID]; dup {
			return nil, fmt.Errorf("invalid seed file %s: duplicate delivery %q", path, d.ID)
		}
		seen[d.ID] = struct{}{}
		out = append(out, domain.Delivery{ID: d.ID, TransporterID: d.TransporterID, Status: d.Status})
	}
	return out, nil
}
