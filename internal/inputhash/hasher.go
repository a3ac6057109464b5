// Package inputhash computes the content hash used to recognise
// submissions that run a workflow on logically identical inputs.
package inputhash

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"lira/pkg/models"
)

// LabelKey is the label the digest is published under.
const LabelKey = "hash-id"

// ErrIncompleteMetadata is returned when a bundle lacks a value its
// workflow's extractor needs.
var ErrIncompleteMetadata = errors.New("incomplete bundle metadata")

// Workflow names with a registered extractor.
const (
	WorkflowSmartSeq2 = "AdapterSmartSeq2SingleCell"
	WorkflowOptimus   = "AdapterOptimus"
)

// MetadataSource looks up bundle metadata in the data store.
type MetadataSource interface {
	Bundle(ctx context.Context, uuid, version string) (*models.Bundle, error)
}

// Extractor returns the ordered values that identify a bundle's inputs
// for one workflow.
type Extractor func(b *models.Bundle) ([]string, error)

// Hasher computes dedup labels for the workflows it knows about.
type Hasher struct {
	source     MetadataSource
	extractors map[string]Extractor
}

// NewHasher creates a Hasher with the built-in workflow table.
func NewHasher(source MetadataSource) *Hasher {
	return &Hasher{
		source: source,
		extractors: map[string]Extractor{
			WorkflowSmartSeq2: SmartSeq2Inputs,
			WorkflowOptimus:   OptimusInputs,
		},
	}
}

// Supports reports whether workflowName has an extractor.
func (h *Hasher) Supports(workflowName string) bool {
	_, ok := h.extractors[workflowName]
	return ok
}

// Compute returns {"hash-id": digest} for the bundle, or nil when the
// workflow has no extractor. A missing bundle yields an error wrapping
// models.ErrBundleNotFound.
func (h *Hasher) Compute(ctx context.Context, workflowName, bundleUUID, bundleVersion string) (map[string]string, error) {
	extract, ok := h.extractors[workflowName]
	if !ok {
		return nil, nil
	}

	bundle, err := h.source.Bundle(ctx, bundleUUID, bundleVersion)
	if err != nil {
		if errors.Is(err, models.ErrBundleNotFound) {
			return nil, fmt.Errorf("bundle %s.%s: %w", bundleUUID, bundleVersion, err)
		}
		return nil, fmt.Errorf("fetch bundle %s.%s: %w", bundleUUID, bundleVersion, err)
	}
	if bundle == nil {
		return nil, fmt.Errorf("bundle %s.%s: %w", bundleUUID, bundleVersion, models.ErrBundleNotFound)
	}

	values, err := extract(bundle)
	if err != nil {
		return nil, fmt.Errorf("extract %s inputs: %w: %w", workflowName, ErrIncompleteMetadata, err)
	}
	return map[string]string{LabelKey: Digest(values)}, nil
}

// Digest is the hex SHA-256 of the values concatenated in order.
func Digest(values []string) string {
	h := sha256.New()
	for _, v := range values {
		h.Write([]byte(v))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SmartSeq2Inputs extracts sample id, taxon id and the checksums of the
// paired-end reads.
func SmartSeq2Inputs(b *models.Bundle) ([]string, error) {
	values, err := sampleAndTaxon(b)
	if err != nil {
		return nil, err
	}

	var read1, read2 *models.SequenceFile
	for i := range b.SequenceFiles {
		f := &b.SequenceFiles[i]
		switch f.ReadIndex {
		case models.ReadIndexRead1:
			read1 = f
		case models.ReadIndexRead2:
			read2 = f
		}
	}
	if read1 == nil || read2 == nil {
		return nil, errors.New("paired-end bundle is missing read1 or read2")
	}

	return append(values, read1.Checksums.Concat(), read2.Checksums.Concat()), nil
}

// OptimusInputs extracts sample id, taxon id and, per lane in ascending
// order, the checksums of read1, read2 and index1 when present.
func OptimusInputs(b *models.Bundle) ([]string, error) {
	values, err := sampleAndTaxon(b)
	if err != nil {
		return nil, err
	}

	type lane struct {
		read1, read2, index1 *models.SequenceFile
	}
	lanes := make(map[int]*lane)
	for i := range b.SequenceFiles {
		f := &b.SequenceFiles[i]
		l, ok := lanes[f.LaneIndex]
		if !ok {
			l = &lane{}
			lanes[f.LaneIndex] = l
		}
		switch f.ReadIndex {
		case models.ReadIndexRead1:
			l.read1 = f
		case models.ReadIndexRead2:
			l.read2 = f
		case models.ReadIndexIndex1:
			l.index1 = f
		}
	}
	if len(lanes) == 0 {
		return nil, errors.New("bundle has no sequence files")
	}

	indexes := make([]int, 0, len(lanes))
	for idx := range lanes {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	for _, idx := range indexes {
		l := lanes[idx]
		if l.read1 == nil || l.read2 == nil {
			return nil, fmt.Errorf("lane %d is missing read1 or read2", idx)
		}
		values = append(values, l.read1.Checksums.Concat(), l.read2.Checksums.Concat())
		if l.index1 != nil {
			values = append(values, l.index1.Checksums.Concat())
		}
	}
	return values, nil
}

func sampleAndTaxon(b *models.Bundle) ([]string, error) {
	if b.SampleID == "" {
		return nil, errors.New("bundle has no sample id")
	}
	if len(b.TaxonIDs) == 0 {
		return nil, errors.New("bundle has no taxon id")
	}
	return []string{b.SampleID, strconv.Itoa(b.TaxonIDs[0])}, nil
}
