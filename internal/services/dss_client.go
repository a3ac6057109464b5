package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"lira/pkg/models"
)

// Metadata document name prefixes inside a bundle.
const (
	docCellSuspension = "cell_suspension_"
	docSpecimen       = "specimen_from_organism_"
	docDonor          = "donor_organism_"
	docSequenceFile   = "sequence_file_"
)

const metadataConcurrency = 8

// DSSClient reads bundle manifests and metadata documents from the data
// storage service.
type DSSClient struct {
	baseURL string
	replica string
	fetcher *ObjectFetcher
}

// NewDSSClient creates a new DSSClient. Requests go through fetcher so
// they share its retry policy.
func NewDSSClient(baseURL string, fetcher *ObjectFetcher) *DSSClient {
	return &DSSClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		replica: "gcp",
		fetcher: fetcher,
	}
}

type bundleManifest struct {
	Bundle struct {
		UUID    string         `json:"uuid"`
		Version string         `json:"version"`
		Files   []manifestFile `json:"files"`
	} `json:"bundle"`
}

type manifestFile struct {
	Name        string `json:"name"`
	UUID        string `json:"uuid"`
	Version     string `json:"version"`
	Indexed     bool   `json:"indexed"`
	ContentType string `json:"content-type"`
	SHA1        string `json:"sha1"`
	SHA256      string `json:"sha256"`
	S3ETag      string `json:"s3_etag"`
	CRC32C      string `json:"crc32c"`
}

type biomaterialDoc struct {
	Provenance struct {
		DocumentID string `json:"document_id"`
	} `json:"provenance"`
	BiomaterialCore struct {
		NCBITaxonID []int `json:"ncbi_taxon_id"`
	} `json:"biomaterial_core"`
}

type sequenceFileDoc struct {
	FileCore struct {
		FileName string `json:"file_name"`
	} `json:"file_core"`
	ReadIndex string `json:"read_index"`
	LaneIndex int    `json:"lane_index"`
}

// Bundle returns the metadata of one bundle version. A bundle the data
// store does not know yields models.ErrBundleNotFound.
func (c *DSSClient) Bundle(ctx context.Context, uuid, version string) (*models.Bundle, error) {
	body, err := c.get(ctx, "bundles", uuid, version)
	if err != nil {
		var status *StatusError
		if errors.As(err, &status) && status.Code == http.StatusNotFound {
			return nil, models.ErrBundleNotFound
		}
		return nil, err
	}

	var manifest bundleManifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, fmt.Errorf("failed to decode bundle manifest: %w", err)
	}

	docs, err := c.metadataDocuments(ctx, manifest.Bundle.Files)
	if err != nil {
		return nil, err
	}

	bundle := &models.Bundle{UUID: uuid, Version: version}
	byName := make(map[string]manifestFile, len(manifest.Bundle.Files))
	for _, f := range manifest.Bundle.Files {
		byName[f.Name] = f
	}

	var cell, specimen, donor *biomaterialDoc
	for _, name := range slices.Sorted(maps.Keys(docs)) {
		raw := docs[name]
		switch {
		case strings.HasPrefix(name, docCellSuspension) && cell == nil:
			cell, err = decodeBiomaterial(name, raw)
		case strings.HasPrefix(name, docSpecimen) && specimen == nil:
			specimen, err = decodeBiomaterial(name, raw)
		case strings.HasPrefix(name, docDonor) && donor == nil:
			donor, err = decodeBiomaterial(name, raw)
		case strings.HasPrefix(name, docSequenceFile):
			var seq sequenceFileDoc
			if err = json.Unmarshal(raw, &seq); err != nil {
				err = fmt.Errorf("failed to decode %s: %w", name, err)
				break
			}
			data, ok := byName[seq.FileCore.FileName]
			if !ok {
				return nil, fmt.Errorf("%s names %q which is not in the bundle", name, seq.FileCore.FileName)
			}
			bundle.SequenceFiles = append(bundle.SequenceFiles, models.SequenceFile{
				Name:      seq.FileCore.FileName,
				ReadIndex: seq.ReadIndex,
				LaneIndex: seq.LaneIndex,
				Checksums: models.Checksums{
					SHA1:   data.SHA1,
					SHA256: data.SHA256,
					S3ETag: data.S3ETag,
					CRC32C: data.CRC32C,
				},
			})
		}
		if err != nil {
			return nil, err
		}
	}

	for _, doc := range []*biomaterialDoc{cell, specimen} {
		if doc != nil && doc.Provenance.DocumentID != "" {
			bundle.SampleID = doc.Provenance.DocumentID
			break
		}
	}
	for _, doc := range []*biomaterialDoc{cell, specimen, donor} {
		if doc != nil && len(doc.BiomaterialCore.NCBITaxonID) > 0 {
			bundle.TaxonIDs = doc.BiomaterialCore.NCBITaxonID
			break
		}
	}
	return bundle, nil
}

// metadataDocuments downloads every indexed JSON document of the bundle
// that the hash extractors read.
func (c *DSSClient) metadataDocuments(ctx context.Context, files []manifestFile) (map[string][]byte, error) {
	var mu sync.Mutex
	docs := make(map[string][]byte)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(metadataConcurrency)
	for _, f := range files {
		if !f.Indexed || !isHashedDocument(f.Name) {
			continue
		}
		g.Go(func() error {
			body, err := c.get(gctx, "files", f.UUID, f.Version)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", f.Name, err)
			}
			mu.Lock()
			docs[f.Name] = body
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *DSSClient) get(ctx context.Context, kind, uuid, version string) ([]byte, error) {
	q := url.Values{}
	q.Set("replica", c.replica)
	if version != "" {
		q.Set("version", version)
	}
	link := fmt.Sprintf("%s/%s/%s?%s", c.baseURL, kind, url.PathEscape(uuid), q.Encode())
	return c.fetcher.Fetch(ctx, link)
}

func isHashedDocument(name string) bool {
	for _, prefix := range []string{docCellSuspension, docSpecimen, docDonor, docSequenceFile} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func decodeBiomaterial(name string, raw []byte) (*biomaterialDoc, error) {
	var doc biomaterialDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return &doc, nil
}
