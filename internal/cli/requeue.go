package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/txclassifier/internal/core/domain"
	"github.com/vietddude/txclassifier/internal/infra/storage"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue [record_id]",
	Short: "Make a waiting or stuck retry record due immediately",
	Args:  cobra.ExactArgs(1),
	Run:   runRequeue,
}

func init() {
	rootCmd.AddCommand(requeueCmd)
}

func runRequeue(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	s, err := openStores(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open stores", "error", err)
		os.Exit(1)
	}
	defer s.close()

	rec, err := requeue(ctx, s.retries, args[0], time.Now())
	if err != nil {
		slog.Error("Failed to requeue record", "id", args[0], "error", err)
		os.Exit(1)
	}
	fmt.Printf("Requeued %s (%s, %d retries so far)\n", rec.ID, rec.Type, rec.RetryCount)
}

// requeue marks the record failed and due at now; the server picks it up on
// its next sweep.
func requeue(ctx context.Context, repo storage.RetryRepository, id string, now time.Time) (*domain.RetryRecord, error) {
	rec, err := repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, storage.ErrRecordNotFound
	}

	rec.Status = domain.RetryStatusFailed
	rec.NextRetry = &now
	rec.UpdatedAt = now
	if err := repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
