package models

// Checksums are the content checksums the data store records for a file.
type Checksums struct {
	SHA1   string `json:"sha1"`
	SHA256 string `json:"sha256"`
	S3ETag string `json:"s3_etag"`
	CRC32C string `json:"crc32c"`
}

// Concat joins the checksums in their fixed order: sha1, sha256, s3 etag,
// crc32c.
func (c Checksums) Concat() string {
	return c.SHA1 + c.SHA256 + c.S3ETag + c.CRC32C
}

// SequenceFile is a sequencing data file described by the bundle
// metadata.
type SequenceFile struct {
	Name      string
	ReadIndex string
	LaneIndex int
	Checksums Checksums
}

// Bundle is the subset of bundle metadata used to identify the content
// a workflow runs on.
type Bundle struct {
	UUID          string
	Version       string
	SampleID      string
	TaxonIDs      []int
	SequenceFiles []SequenceFile
}

// ReadIndex values found in sequence file metadata.
const (
	ReadIndexRead1  = "read1"
	ReadIndexRead2  = "read2"
	ReadIndexIndex1 = "index1"
)
