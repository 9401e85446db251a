// Package registrydriver is the Registry Driver: it
// translates registry-level operations (enumerate images, enumerate
// repositories, fetch image JSON/ancestry, fetch repository index/tags)
// into object-store operations against the key layout defines.
//
// Errors are passed through unchanged from the Object Store Client; this
// package does not interpret them.
package registrydriver

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/distribution-tools/gcsweep/internal/gcerrors"
	"github.com/distribution-tools/gcsweep/internal/objectstore"
)

// Store is the subset of the Object Store Client the driver needs.
type Store interface {
	Fetch(method, key string, query url.Values, headers map[string]string) (*objectstore.Response, error)
}

// Driver implements the registry-level operations against a configured root
// prefix.
type Driver struct {
	store  Store
	root   string
	logger *slog.Logger
}

// New constructs a Driver rooted at root (the configured `registry.path`).
// logger may be nil; when non-nil it receives debug-level detail about
// individual fetches (e.g. each layer's size in GetImageInfo).
func New(store Store, root string, logger *slog.Logger) *Driver {
	return &Driver{store: store, root: strings.TrimRight(root, "/"), logger: logger}
}

func (d *Driver) key(parts ...string) string {
	return d.root + "/" + strings.Join(parts, "/")
}

// listResult is the subset of the S3 ListBucket XML response the driver
// needs: common prefixes (for delimited enumeration) and a continuation
// marker.
type listResult struct {
	XMLName        xml.Name `xml:"ListBucketResult"`
	CommonPrefixes []struct {
		Prefix string `xml:"Prefix"`
	} `xml:"CommonPrefixes"`
	Contents []struct {
		Key string `xml:"Key"`
	} `xml:"Contents"`
	IsTruncated bool   `xml:"IsTruncated"`
	NextMarker  string `xml:"NextMarker"`
}

// list issues one or more paginated LIST calls under prefix with the given
// delimiter, calling page for each response until IsTruncated is false.
func (d *Driver) list(prefix, delimiter string, page func(listResult) error) error {
	const op = "registrydriver.list"
	marker := ""
	for {
		query := url.Values{
			"prefix": {prefix},
		}
		if delimiter != "" {
			query.Set("delimiter", delimiter)
		}
		if marker != "" {
			query.Set("marker", marker)
		}

		resp, err := d.store.Fetch("GET", "", query, nil)
		if err != nil {
			return err
		}

		var lr listResult
		if err := xml.Unmarshal(resp.Body, &lr); err != nil {
			return gcerrors.New(gcerrors.KindParse, op, "decoding LIST response", err)
		}

		if err := page(lr); err != nil {
			return err
		}

		if !lr.IsTruncated {
			return nil
		}
		marker = lr.NextMarker
	}
}

// EnumerateImages calls emit(id) once for every image id found under
// <root>/images/, deduplicated within the enumeration.
func (d *Driver) EnumerateImages(emit func(id string) error) error {
	prefix := d.key("images") + "/"
	seen := make(map[string]bool)
	return d.list(prefix, "/", func(lr listResult) error {
		for _, cp := range lr.CommonPrefixes {
			id := strings.TrimSuffix(strings.TrimPrefix(cp.Prefix, prefix), "/")
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			if err := emit(id); err != nil {
				return err
			}
		}
		return nil
	})
}

// EnumerateRepositories calls emit(name) once for every repository found
// under <root>/repositories/library/, deduplicated within the enumeration.
func (d *Driver) EnumerateRepositories(emit func(name string) error) error {
	prefix := d.key("repositories", "library") + "/"
	seen := make(map[string]bool)
	return d.list(prefix, "/", func(lr listResult) error {
		for _, cp := range lr.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(cp.Prefix, prefix), "/")
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			if err := emit(name); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetImageAncestry fetches and parses <root>/images/<id>/ancestry: a JSON
// array of layer ids ordered child->parent, head first. The first element
// must equal id.
func (d *Driver) GetImageAncestry(id string) ([]string, error) {
	const op = "registrydriver.GetImageAncestry"
	resp, err := d.store.Fetch("GET", d.key("images", id, "ancestry"), nil, nil)
	if err != nil {
		return nil, err
	}

	var ancestry []string
	if err := json.Unmarshal(resp.Body, &ancestry); err != nil {
		return nil, gcerrors.New(gcerrors.KindParse, op, fmt.Sprintf("decoding ancestry for %s", id), err)
	}
	if len(ancestry) == 0 || ancestry[0] != id {
		return nil, gcerrors.New(gcerrors.KindParse, op, fmt.Sprintf("ancestry for %s does not start with itself", id), nil)
	}
	return ancestry, nil
}

// ImageInfo is the subset of an image manifest the history reporter needs.
type ImageInfo struct {
	Created         string `json:"created"`
	Size            int64  `json:"Size"`
	ContainerConfig struct {
		Cmd []string `json:"Cmd"`
	} `json:"container_config"`
}

// GetImageInfo fetches and parses <root>/images/<id>/json.
func (d *Driver) GetImageInfo(id string) (*ImageInfo, error) {
	const op = "registrydriver.GetImageInfo"
	resp, err := d.store.Fetch("GET", d.key("images", id, "json"), nil, nil)
	if err != nil {
		return nil, err
	}

	var info ImageInfo
	if err := json.Unmarshal(resp.Body, &info); err != nil {
		return nil, gcerrors.New(gcerrors.KindParse, op, fmt.Sprintf("decoding image info for %s", id), err)
	}
	if info.Created == "" {
		return nil, gcerrors.New(gcerrors.KindParse, op, fmt.Sprintf("image info for %s missing created", id), nil)
	}
	if d.logger != nil && info.Size > 0 {
		d.logger.Debug("fetched image info", slog.String("id", id), slog.String("size", humanize.Bytes(uint64(info.Size))))
	}
	return &info, nil
}

// repoIndexEntry is one element of the repository index array.
type repoIndexEntry struct {
	ID string `json:"id"`
}

// GetRepositoryIndex fetches and parses
// <root>/repositories/library/<repo>/_index_images.
func (d *Driver) GetRepositoryIndex(repo string) ([]string, error) {
	const op = "registrydriver.GetRepositoryIndex"
	resp, err := d.store.Fetch("GET", d.key("repositories", "library", repo, "_index_images"), nil, nil)
	if err != nil {
		return nil, err
	}

	var entries []repoIndexEntry
	if err := json.Unmarshal(resp.Body, &entries); err != nil {
		return nil, gcerrors.New(gcerrors.KindParse, op, fmt.Sprintf("decoding index for %s", repo), err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

// GetRepositoryTags enumerates <root>/repositories/library/<repo>/tag_* via
// LIST, then fetches each tag body and parses the head layer id, stripping
// surrounding quotes.
func (d *Driver) GetRepositoryTags(repo string) (map[string]string, error) {
	const op = "registrydriver.GetRepositoryTags"
	prefix := d.key("repositories", "library", repo, "tag_")

	var tagNames []string
	if err := d.list(prefix, "", func(lr listResult) error {
		for _, c := range lr.Contents {
			name := strings.TrimPrefix(c.Key, prefix)
			if name != "" {
				tagNames = append(tagNames, name)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	tags := make(map[string]string, len(tagNames))
	for _, name := range tagNames {
		resp, err := d.store.Fetch("GET", prefix+name, nil, nil)
		if err != nil {
			return nil, err
		}
		head := strings.Trim(strings.TrimSpace(string(resp.Body)), `"`)
		if head == "" {
			return nil, gcerrors.New(gcerrors.KindParse, op, fmt.Sprintf("empty tag body for %s:%s", repo, name), nil)
		}
		tags[name] = head
	}
	return tags, nil
}
