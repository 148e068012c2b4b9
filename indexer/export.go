package indexer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRow struct {
	Seq        int64  `parquet:"name=seq, type=INT64"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Account    string `parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	Asset      string `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount     string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	IndexedAt  string `parquet:"name=indexed_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet writes every indexed event matching f to path and returns the
// number of rows written. The filter limit applies per page, not overall.
func (ix *Indexer) ExportParquet(ctx context.Context, path string, f Filter) (int, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("indexer: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("indexer: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	written := 0
	page := f
	if page.Limit <= 0 {
		page.Limit = defaultBatch
	}
	for {
		rows, err := ix.Events(ctx, page)
		if err != nil {
			pw.WriteStop()
			file.Close()
			return written, err
		}
		for _, rec := range rows {
			pr := &parquetRow{
				Seq:        int64(rec.Seq),
				Type:       rec.Type,
				Account:    rec.Account,
				Asset:      rec.Asset,
				Amount:     rec.Amount,
				Attributes: rec.Attributes,
				IndexedAt:  rec.IndexedAt.Format(time.RFC3339),
			}
			if err := pw.Write(pr); err != nil {
				pw.WriteStop()
				file.Close()
				return written, fmt.Errorf("indexer: parquet write: %w", err)
			}
			written++
		}
		if len(rows) < page.Limit {
			break
		}
		page.AfterSeq = rows[len(rows)-1].Seq
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return written, fmt.Errorf("indexer: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return written, fmt.Errorf("indexer: close parquet file: %w", err)
	}
	return written, nil
}
