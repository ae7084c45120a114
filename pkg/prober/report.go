package prober

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/natefinch/atomic"
)

// ProbeReport is the JSON-serializable form of a Result, suitable for
// writing to a file via the --report flag.
type ProbeReport struct {
	Filename          string    `json:"filename"`
	RealSizeByte      uint64    `json:"real_size_byte"`
	AnnouncedSizeByte uint64    `json:"announced_size_byte"`
	Wrap              uint8     `json:"wrap"`
	CacheSizeBlock    uint64    `json:"cache_size_block"`
	NeedReset         bool      `json:"need_reset"`
	BlockOrder        uint8     `json:"block_order"`
	FakeType          string    `json:"fake_type"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// NewReport builds a ProbeReport from a probe Result.
func NewReport(filename string, result Result, generatedAt time.Time) ProbeReport {
	return ProbeReport{
		Filename:          filename,
		RealSizeByte:      result.RealSizeByte,
		AnnouncedSizeByte: result.AnnouncedSizeByte,
		Wrap:              result.Wrap,
		CacheSizeBlock:    result.CacheSizeBlock,
		NeedReset:         result.NeedReset,
		BlockOrder:        result.BlockOrder,
		FakeType:          result.FakeType.String(),
		GeneratedAt:       generatedAt,
	}
}

// WriteReport serializes report as indented JSON and writes it to
// path via a temp-file-plus-rename, so a reader never observes a
// partially-written report.
func WriteReport(path string, report ProbeReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}
