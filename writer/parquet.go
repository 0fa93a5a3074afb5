package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "payoffgrid/config"
	"payoffgrid/grid"
	"payoffgrid/logger"
	"payoffgrid/store"
)

const exportFileName = "grid.parquet"

type gridParquetRecord struct {
	ID          int64   `parquet:"name=id, type=INT64"`
	Balance     int64   `parquet:"name=balance, type=INT64"`
	RateScaled  int64   `parquet:"name=rate_scaled, type=INT64"`
	Rate        float64 `parquet:"name=rate, type=DOUBLE"`
	Payment     int64   `parquet:"name=payment, type=INT64"`
	TimeScaled  int64   `parquet:"name=payoff_time_scaled, type=INT64"`
	PayoffYears float64 `parquet:"name=payoff_years, type=DOUBLE"`
	RunID       string  `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// objectPutter is the slice of the S3 client the exporter uses.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ExportResult describes one finished export.
type ExportResult struct {
	Location string
	Records  int64
	Bytes    int64
}

// Exporter streams the persisted grid, block by block in id order, into a
// parquet file. The file goes to S3 when storage.s3 is enabled and to
// writer.parquet.local_dir otherwise.
type Exporter struct {
	cfg     *appconfig.Config
	src     store.Store
	indexer *grid.Indexer
	s3      objectPutter
	log     *logger.Log
}

// NewExporter builds an exporter over src. The S3 client is only created
// when S3 storage is enabled.
func NewExporter(ctx context.Context, cfg *appconfig.Config, src store.Store, indexer *grid.Indexer) (*Exporter, error) {
	if src == nil || indexer == nil {
		return nil, fmt.Errorf("exporter needs a store and an indexer")
	}
	e := &Exporter{cfg: cfg, src: src, indexer: indexer, log: logger.GetLogger()}
	if !cfg.Storage.S3.Enabled {
		return e, nil
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	e.s3 = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})
	return e, nil
}

// ObjectKey is the S3 key (or relative file path) of a run's export.
func (e *Exporter) ObjectKey(runID string) string {
	prefix := strings.Trim(e.cfg.Writer.Parquet.Prefix, "/")
	if prefix == "" {
		prefix = "grid"
	}
	return path.Join(prefix, "run="+runID, exportFileName)
}

// Export writes the whole grid for runID.
func (e *Exporter) Export(ctx context.Context, runID string) (ExportResult, error) {
	start := time.Now()
	key := e.ObjectKey(runID)
	log := e.log.WithComponent("exporter").WithFields(logger.Fields{"run_id": runID, "key": key})

	var (
		res ExportResult
		err error
	)
	if e.s3 != nil {
		res, err = e.exportToS3(ctx, runID, key)
	} else {
		res, err = e.exportToFile(ctx, runID, filepath.Join(e.cfg.Writer.Parquet.LocalDir, filepath.FromSlash(key)))
	}
	if err != nil {
		log.WithError(err).Error("grid export failed")
		return ExportResult{}, err
	}

	log.WithFields(logger.Fields{
		"location":  res.Location,
		"records":   res.Records,
		"file_size": res.Bytes,
	}).Info("grid exported")
	logger.LogPerformanceEntry(log, "exporter", "export", time.Since(start), nil)
	e.log.LogMetric("exporter", "ExportedRecords", res.Records, "counter", logger.Fields{"run_id": runID})
	return res, nil
}

func (e *Exporter) exportToS3(ctx context.Context, runID, key string) (ExportResult, error) {
	mem := newMemFile()
	n, err := e.writeGrid(ctx, mem, runID)
	if err != nil {
		return ExportResult{}, err
	}
	data := mem.Bytes()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(e.cfg.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":       "parquet",
			"compression":        e.cfg.Writer.Parquet.Compression,
			"payoffgrid-version": e.cfg.Service.Version,
			"run-id":             runID,
		},
	}
	uploadCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if _, err := e.s3.PutObject(uploadCtx, input); err != nil {
		return ExportResult{}, fmt.Errorf("upload grid parquet: %w", err)
	}
	return ExportResult{
		Location: fmt.Sprintf("s3://%s/%s", e.cfg.Storage.S3.Bucket, key),
		Records:  n,
		Bytes:    int64(len(data)),
	}, nil
}

func (e *Exporter) exportToFile(ctx context.Context, runID, filePath string) (ExportResult, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return ExportResult{}, fmt.Errorf("create export dir: %w", err)
	}
	fw, err := local.NewLocalFileWriter(filePath)
	if err != nil {
		return ExportResult{}, fmt.Errorf("create export file: %w", err)
	}
	n, err := e.writeGrid(ctx, fw, runID)
	if closeErr := fw.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close export file: %w", closeErr)
	}
	if err != nil {
		_ = os.Remove(filePath)
		return ExportResult{}, err
	}
	info, err := os.Stat(filePath)
	if err != nil {
		return ExportResult{}, fmt.Errorf("stat export file: %w", err)
	}
	return ExportResult{Location: filePath, Records: n, Bytes: info.Size()}, nil
}

// writeGrid reads the store in blocks of writer.block_size ids and writes
// every persisted record to pf.
func (e *Exporter) writeGrid(ctx context.Context, pf source.ParquetFile, runID string) (int64, error) {
	pw, err := writer.NewParquetWriter(pf, new(gridParquetRecord), 1)
	if err != nil {
		return 0, fmt.Errorf("new parquet writer: %w", err)
	}
	switch strings.ToLower(e.cfg.Writer.Parquet.Compression) {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	block := int64(e.cfg.Writer.BlockSize)
	if block <= 0 {
		block = 10000
	}
	size := e.indexer.Size()

	var written int64
	for start := int64(0); start < size; start += block {
		if err := ctx.Err(); err != nil {
			_ = pw.WriteStop()
			return 0, err
		}
		end := start + block
		if end > size {
			end = size
		}
		recs, err := e.src.Range(ctx, start, end)
		if err != nil {
			_ = pw.WriteStop()
			return 0, fmt.Errorf("read block [%d,%d): %w", start, end, err)
		}
		for _, rec := range recs {
			row := gridParquetRecord{
				ID:          rec.ID,
				Balance:     rec.Balance,
				RateScaled:  rec.Rate,
				Rate:        grid.DecodeRate(rec.Rate),
				Payment:     rec.Payment,
				TimeScaled:  rec.Time,
				PayoffYears: grid.DecodeYears(rec.Time),
				RunID:       runID,
			}
			if err := pw.Write(row); err != nil {
				_ = pw.WriteStop()
				return 0, fmt.Errorf("write grid record %d: %w", rec.ID, err)
			}
			written++
		}
	}

	if err := pw.WriteStop(); err != nil {
		return 0, fmt.Errorf("finalize grid parquet: %w", err)
	}
	return written, nil
}
