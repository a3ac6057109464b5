package submission

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"slices"
	"sync"

	"github.com/klauspost/compress/zip"
)

// Artifact holds the static assets a workflow needs for every
// submission. Artifacts returned by the cache are shared between
// requests and must not be modified.
type Artifact struct {
	WDL          []byte
	StaticInputs []byte
	Options      []byte
	// Dependencies maps each dependency URL to its content.
	Dependencies map[string][]byte

	archiveOnce sync.Once
	archive     []byte
	archiveErr  error
}

// DependencyArchive returns the dependencies as a zip archive. Entries
// are named after the last path element of their URL and written in URL
// order, so equal artifacts produce identical archives. The archive is
// built once per artifact.
func (a *Artifact) DependencyArchive() ([]byte, error) {
	a.archiveOnce.Do(func() {
		a.archive, a.archiveErr = buildArchive(a.Dependencies)
	})
	return a.archive, a.archiveErr
}

func buildArchive(deps map[string][]byte) ([]byte, error) {
	links := make([]string, 0, len(deps))
	for link := range deps {
		links = append(links, link)
	}
	slices.Sort(links)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := make(map[string]string, len(links))
	for _, link := range links {
		name := entryName(link)
		if prev, ok := names[name]; ok {
			return nil, fmt.Errorf("dependencies %s and %s share the archive name %q", prev, link, name)
		}
		names[name] = link

		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return nil, fmt.Errorf("add %s to archive: %w", name, err)
		}
		if _, err := w.Write(deps[link]); err != nil {
			return nil, fmt.Errorf("write %s to archive: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}

func entryName(link string) string {
	if u, err := url.Parse(link); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(link)
}
