package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "cryptotrader/config"
	"cryptotrader/internal/metadata"
	"cryptotrader/logger"
	"cryptotrader/models"
	"cryptotrader/stream"
)

const reconnectDelay = 5 * time.Second

// tickerRecord defines the parquet schema for archived ticker frames.
type tickerRecord struct {
	Symbol             string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price              float64 `parquet:"name=price, type=DOUBLE"`
	PriceChange        float64 `parquet:"name=price_change, type=DOUBLE"`
	PriceChangePercent float64 `parquet:"name=price_change_percent, type=DOUBLE"`
	High               float64 `parquet:"name=high, type=DOUBLE"`
	Low                float64 `parquet:"name=low, type=DOUBLE"`
	Volume             float64 `parquet:"name=volume, type=DOUBLE"`
	QuoteVolume        float64 `parquet:"name=quote_volume, type=DOUBLE"`
	Timestamp          int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// memoryFileWriter implements the ParquetFile interface for in-memory writing
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

// TickerArchiver maintains its own upstream ticker streams for the configured
// symbols and writes the frames to S3 as parquet batches, partitioned by
// symbol and day.
type TickerArchiver struct {
	config      *appconfig.Config
	streamer    stream.Streamer
	s3Client    *s3.Client
	frames      chan models.TickerMessage
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	buffer      map[string][]models.TickerMessage
	flushTicker *time.Ticker
	metaGen     *metadata.Generator
	log         *logger.Log
}

// NewTickerArchiver builds the S3 client and validates credentials. The
// archiver does not open any upstream streams until Start is called.
func NewTickerArchiver(cfg *appconfig.Config, streamer stream.Streamer) (*TickerArchiver, error) {
	log := logger.GetLogger()

	ctx := context.Background()

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Archive.S3.Region),
	}
	if cfg.Archive.S3.AccessKeyID != "" && cfg.Archive.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Archive.S3.AccessKeyID,
				cfg.Archive.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("stream_archiver").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Archive.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Archive.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Archive.S3.PathStyle
	})

	metaDir, err := os.MkdirTemp("", "ticker-metadata")
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}

	archiver := &TickerArchiver{
		config:   cfg,
		streamer: streamer,
		s3Client: s3Client,
		frames:   make(chan models.TickerMessage, 1024),
		wg:       &sync.WaitGroup{},
		buffer:   make(map[string][]models.TickerMessage),
		metaGen:  metadata.NewGenerator(metaDir, "ticker"),
		log:      log,
	}

	log.WithComponent("stream_archiver").WithFields(logger.Fields{
		"bucket":     cfg.Archive.S3.Bucket,
		"region":     cfg.Archive.S3.Region,
		"symbols":    cfg.Archive.Symbols,
		"path_style": cfg.Archive.S3.PathStyle,
	}).Info("ticker archiver initialized")

	return archiver, nil
}

// Start opens one upstream ticker stream per configured symbol and launches
// the collect and flush workers.
func (a *TickerArchiver) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("ticker archiver already running")
	}
	a.running = true
	a.ctx = ctx
	a.mu.Unlock()

	log := a.log.WithComponent("stream_archiver").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting ticker archiver")

	a.flushTicker = time.NewTicker(a.config.Archive.FlushInterval)

	for _, symbol := range a.config.Archive.Symbols {
		a.wg.Add(1)
		go a.watch(symbol)
	}

	a.wg.Add(1)
	go a.collect()

	a.wg.Add(1)
	go a.flushWorker()

	log.Info("ticker archiver started successfully")
	return nil
}

// Stop waits for the workers. The caller cancels the start context first.
func (a *TickerArchiver) Stop() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	if a.flushTicker != nil {
		a.flushTicker.Stop()
	}

	a.log.WithComponent("stream_archiver").Info("stopping ticker archiver")
	a.wg.Wait()
	a.log.WithComponent("stream_archiver").Info("ticker archiver stopped")
}

// watch keeps one upstream ticker stream open for a symbol, reconnecting
// after unexpected ends until the context is cancelled.
func (a *TickerArchiver) watch(symbol string) {
	defer a.wg.Done()

	log := a.log.WithComponent("stream_archiver").WithFields(logger.Fields{"symbol": symbol})

	handler := func(event *futures.WsMarketTickerEvent) {
		select {
		case a.frames <- stream.DecodeTicker(log, event):
		default:
			log.Debug("frame buffer full, dropping ticker frame")
		}
	}
	errHandler := func(err error) {
		log.WithError(err).Warn("upstream error on archive stream")
	}

	for {
		doneC, stopC, err := a.streamer.Ticker(symbol, handler, errHandler)
		if err != nil {
			log.WithError(err).Error("failed to open archive stream")
		} else {
			log.Info("archive stream opened")
			select {
			case <-a.ctx.Done():
				close(stopC)
				<-doneC
				return
			case <-doneC:
				log.Warn("archive stream ended, reconnecting")
			}
		}

		select {
		case <-a.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (a *TickerArchiver) collect() {
	defer a.wg.Done()

	log := a.log.WithComponent("stream_archiver").WithFields(logger.Fields{"worker": "collect"})
	log.Info("starting collect worker")

	for {
		select {
		case <-a.ctx.Done():
			log.Info("collect worker stopped due to context cancellation")
			return
		case frame := <-a.frames:
			if rows := a.addFrame(frame); rows != nil {
				a.processBatch(frame.Symbol, rows)
			}
		}
	}
}

// addFrame buffers a frame and returns the rows to flush when the symbol's
// buffer reaches the configured batch size.
func (a *TickerArchiver) addFrame(frame models.TickerMessage) []models.TickerMessage {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buffer[frame.Symbol] = append(a.buffer[frame.Symbol], frame)
	if len(a.buffer[frame.Symbol]) < a.config.Archive.BatchSize {
		return nil
	}
	rows := a.buffer[frame.Symbol]
	delete(a.buffer, frame.Symbol)
	return rows
}

func (a *TickerArchiver) flushWorker() {
	defer a.wg.Done()

	log := a.log.WithComponent("stream_archiver").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	for {
		select {
		case <-a.ctx.Done():
			a.flushBuffers("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-a.flushTicker.C:
			a.flushBuffers("interval")
		}
	}
}

func (a *TickerArchiver) flushBuffers(reason string) {
	a.mu.Lock()
	buffers := a.buffer
	a.buffer = make(map[string][]models.TickerMessage)
	a.mu.Unlock()

	if len(buffers) == 0 {
		return
	}

	a.log.WithComponent("stream_archiver").WithFields(logger.Fields{
		"flushed_buffers": len(buffers),
		"reason":          reason,
	}).Info("flushing buffers")

	for symbol, rows := range buffers {
		a.processBatch(symbol, rows)
	}
}

func (a *TickerArchiver) processBatch(symbol string, rows []models.TickerMessage) {
	if len(rows) == 0 {
		return
	}

	now := time.Now()
	key := a.generateKey(symbol, now)
	log := a.log.WithComponent("stream_archiver").WithFields(logger.Fields{
		"symbol":       symbol,
		"record_count": len(rows),
		"s3_key":       key,
	})

	data, err := a.createParquetFile(rows)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	if err := a.upload(key, data); err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"bucket": a.config.Archive.S3.Bucket,
		}).Error("failed to upload to S3")
		return
	}

	log.WithFields(logger.Fields{"file_size": len(data)}).Info("batch archived")

	df := metadata.DataFile{
		Path:        fmt.Sprintf("s3://%s/%s", a.config.Archive.S3.Bucket, key),
		FileSize:    int64(len(data)),
		RecordCount: int64(len(rows)),
		Partition: map[string]any{
			"symbol": symbol,
			"date":   now.UTC().Format("2006-01-02"),
		},
		Timestamp: now,
	}
	if err := a.metaGen.AddFile(df); err != nil {
		log.WithError(err).Warn("failed to update metadata")
	}
}

func (a *TickerArchiver) generateKey(symbol string, ts time.Time) string {
	day := ts.UTC()
	filename := fmt.Sprintf("ticker_%s_%s.parquet", symbol, day.Format("20060102150405"))
	return path.Join(
		fmt.Sprintf("symbol=%s", symbol),
		fmt.Sprintf("%04d/%02d/%02d", day.Year(), day.Month(), day.Day()),
		filename,
	)
}

func (a *TickerArchiver) createParquetFile(rows []models.TickerMessage) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(tickerRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch a.config.Archive.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, row := range rows {
		record := tickerRecord{
			Symbol:             row.Symbol,
			Price:              row.Price,
			PriceChange:        row.PriceChange,
			PriceChangePercent: row.PriceChangePercent,
			High:               row.High,
			Low:                row.Low,
			Volume:             row.Volume,
			QuoteVolume:        row.QuoteVolume,
			Timestamp:          row.Timestamp,
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	return fw.Bytes(), nil
}

func (a *TickerArchiver) upload(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.config.Archive.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":         "parquet",
			"compression":          a.config.Archive.Compression,
			"cryptotrader-version": a.config.Cryptotrader.Version,
		},
	}

	ctx := context.WithoutCancel(a.ctx)
	if _, err := a.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", a.config.Archive.S3.Bucket, err)
	}
	return nil
}
