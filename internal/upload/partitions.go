package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/lgulliver/ncchup/internal/container"
)

// PartitionResult pairs a partition with the outcome of its upload
type PartitionResult struct {
	Partition container.Partition
	Result    *Result
	Err       error
}

// UploadPartitions uploads each partition in turn, one session at a time.
// A failed partition does not stop the rest; cancellation does.
func (c *Client) UploadPartitions(ctx context.Context, src container.Source, parts []container.Partition) ([]PartitionResult, error) {
	results := make([]PartitionResult, 0, len(parts))
	var errs []error

	for _, part := range parts {
		logger := c.logger.With().Int("partition", part.Index).Str("name", part.Name).Logger()
		logger.Info().Int64("base_offset", part.Layout.BaseOffset).Msg("uploading partition")

		res, err := c.Upload(ctx, src, part.Layout)
		results = append(results, PartitionResult{Partition: part, Result: res, Err: err})
		if err == nil {
			continue
		}

		errs = append(errs, fmt.Errorf("partition %d (%s): %w", part.Index, part.Name, err))
		if IsCancelled(err) {
			break
		}
	}

	return results, errors.Join(errs...)
}
