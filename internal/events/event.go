// Package events publishes committed partition changes to Kafka.
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const Version = 1

// Event announces a committed ingestion on one partition.
type Event struct {
	Version                int         `json:"version"`
	Op                     string      `json:"op"`
	PartsEntityName        string      `json:"partsEntityName"`
	PolygonPartsEntityName string      `json:"polygonPartsEntityName"`
	CatalogIDs             []uuid.UUID `json:"catalogIds"`
	Parts                  int         `json:"parts"`
	TS                     time.Time   `json:"ts"`
}

func (e Event) Validate() error {
	if e.Version != Version {
		return fmt.Errorf("version must be %d", Version)
	}
	switch e.Op {
	case "create", "update", "swap":
	default:
		return fmt.Errorf("op must be create|update|swap")
	}
	if strings.TrimSpace(e.PolygonPartsEntityName) == "" {
		return fmt.Errorf("polygonPartsEntityName is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	if e.Parts < 0 {
		return fmt.Errorf("parts must not be negative")
	}
	return nil
}
