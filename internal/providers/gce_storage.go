package providers

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/lvonguyen/cloud-bill-calculator/internal/normalizer"
)

const gceExportDateLayout = "2006-01-02"

var gceExportDatePattern = regexp.MustCompile(`20[0-9][0-9]-[0-9][0-9]-[0-9][0-9]`)

// StorageExportSourceConfig configures one project's legacy daily CSV
// export bucket.
type StorageExportSourceConfig struct {
	ProjectID    string
	Bucket       string
	ExportPrefix string
}

// StorageExportSource downloads a GCE project's daily billing CSV
// exports from Cloud Storage. It satisfies calculator.Source.
type StorageExportSource struct {
	client      *storage.Client
	cfg         StorageExportSourceConfig
	filePattern *regexp.Regexp
	norm        *normalizer.GCENormalizer
	logger      *zap.Logger
}

// NewStorageExportSource opens a Cloud Storage client for the export
// bucket. Export files are named <prefix>-YYYY-MM-DD.csv.
func NewStorageExportSource(ctx context.Context, cfg StorageExportSourceConfig, logger *zap.Logger) (*StorageExportSource, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: creating storage client: %v", ErrAuthentication, err)
	}
	pattern := regexp.MustCompile(regexp.QuoteMeta(cfg.ExportPrefix) + `-20[0-9][0-9]-[0-9][0-9]-[0-9][0-9]\.csv`)
	return &StorageExportSource{
		client:      client,
		cfg:         cfg,
		filePattern: pattern,
		norm:        normalizer.NewGCENormalizer(cfg.ProjectID, logger),
		logger:      logger,
	}, nil
}

// Cacheable reports true: export rows carry per-row start times, so a
// single download serves every narrower alarm window.
func (s *StorageExportSource) Cacheable() bool { return true }

// Close releases the storage client.
func (s *StorageExportSource) Close() error { return s.client.Close() }

// Fetch lists the export bucket, selects the files covering the
// window, downloads them and runs the CSV normalizer.
func (s *StorageExportSource) Fetch(ctx context.Context, from time.Time, _ *time.Time) ([]normalizer.LineItem, error) {
	names, err := s.listObjects(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	selected, err := selectBillingFiles(names, s.filePattern, gceExportDatePattern, gceExportDateLayout, from)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("billing files selected",
		zap.String("project", s.cfg.ProjectID),
		zap.Strings("files", selected))

	files := make([]normalizer.RawFile, 0, len(selected))
	for _, name := range selected {
		data, err := s.download(ctx, name)
		if err != nil {
			return nil, err
		}
		files = append(files, normalizer.RawFile{Name: name, Data: data})
	}

	return s.norm.Normalize(files)
}

func (s *StorageExportSource) listObjects(ctx context.Context) ([]string, error) {
	var names []string
	it := s.client.Bucket(s.cfg.Bucket).Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing bucket %s: %w", s.cfg.Bucket, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

func (s *StorageExportSource) download(ctx context.Context, name string) ([]byte, error) {
	r, err := s.client.Bucket(s.cfg.Bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("downloading %s from %s: %w", name, s.cfg.Bucket, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}
