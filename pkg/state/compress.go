package state

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/harborlabs/bunkerplan/pkg/observability"
	"github.com/harborlabs/bunkerplan/pkg/oerr"
	"github.com/harborlabs/bunkerplan/pkg/refstore"
)

// IsReference reports whether a state value is a reference string.
func IsReference(s string) bool {
	return refstore.IsReference(s)
}

// CompressionStats reports the effect of one compression pass.
type CompressionStats struct {
	OriginalSize      int      `json:"original_size"`
	CompressedSize    int      `json:"compressed_size"`
	SavedBytes        int      `json:"saved_bytes"`
	ReferencesCreated int      `json:"references_created"`
	FieldsReferenced  []string `json:"fields_referenced,omitempty"`
}

// DecompressionReport lists references that could not be resolved. The
// affected fields keep their reference strings; callers decide policy.
type DecompressionReport struct {
	MissingReferences []string `json:"missing_references,omitempty"`
}

// Compressor replaces oversized referenceable fields with reference
// strings backed by the reference store.
type Compressor struct {
	schema    *Schema
	store     *refstore.Store
	threshold int
}

// NewCompressor creates a compressor. threshold is the inline size limit in
// serialized bytes.
func NewCompressor(schema *Schema, store *refstore.Store, threshold int) *Compressor {
	if schema == nil {
		schema = DefaultSchema()
	}
	return &Compressor{schema: schema, store: store, threshold: threshold}
}

// Compress walks the referenceable fields and externalizes each one whose
// serialized size exceeds the inline threshold. The input is not mutated.
func (c *Compressor) Compress(ctx context.Context, s State) (State, *CompressionStats, error) {
	originalSize, err := s.SizeBytes()
	if err != nil {
		return nil, nil, oerr.Wrap(oerr.CodeCompressionFailed, "Compressor", "Compress",
			"state is not serializable", err)
	}

	out := s.Clone()
	stats := &CompressionStats{OriginalSize: originalSize}

	for _, field := range c.schema.ReferenceableFields() {
		val, ok := out[field]
		if !ok || val == nil {
			continue
		}
		if str, isStr := val.(string); isStr && refstore.IsReference(str) {
			continue
		}

		size := serializedSize(val)
		if size <= c.threshold {
			continue
		}

		id, err := c.store.Put(ctx, field, val)
		if err != nil {
			return nil, nil, oerr.Wrap(oerr.CodeCompressionFailed, "Compressor", "Compress",
				fmt.Sprintf("failed to externalize field %s", field), err)
		}

		out[field] = refstore.CreateReference(id)
		stats.ReferencesCreated++
		stats.FieldsReferenced = append(stats.FieldsReferenced, field)
	}
	sort.Strings(stats.FieldsReferenced)

	compressedSize, err := out.SizeBytes()
	if err != nil {
		return nil, nil, oerr.Wrap(oerr.CodeCompressionFailed, "Compressor", "Compress",
			"compressed state is not serializable", err)
	}
	stats.CompressedSize = compressedSize
	stats.SavedBytes = originalSize - compressedSize

	if pm := observability.GetGlobalMetrics(); pm != nil && originalSize > 0 {
		pm.CompressionSavedPct.Set(float64(stats.SavedBytes) / float64(originalSize) * 100)
		pm.ReferencesCreated.Add(float64(stats.ReferencesCreated))
	}

	return out, stats, nil
}

// Decompress resolves reference strings in referenceable fields back to
// their stored values. Missing references are reported but not fatal.
func (c *Compressor) Decompress(ctx context.Context, s State) (State, *DecompressionReport, error) {
	out := s.Clone()
	report := &DecompressionReport{}

	for _, field := range c.schema.ReferenceableFields() {
		val, ok := out[field]
		if !ok {
			continue
		}
		str, isStr := val.(string)
		if !isStr || !refstore.IsReference(str) {
			continue
		}

		id, _ := refstore.ExtractReferenceID(str)
		value, found, err := c.store.Retrieve(ctx, id)
		if err != nil {
			return nil, nil, oerr.Wrap(oerr.CodeDecompressionFailed, "Compressor", "Decompress",
				fmt.Sprintf("failed to resolve reference for field %s", field), err)
		}
		if !found {
			report.MissingReferences = append(report.MissingReferences, str)
			slog.Warn("Reference expired or missing, leaving reference string in place",
				"field", field, "reference", str)
			continue
		}
		out[field] = value
	}

	return out, report, nil
}
