package cleanup

import (
	"os"
	"path/filepath"
	"time"

	"liveness-gate-go/internal/db/repository"

	log "github.com/sirupsen/logrus"
)

// Service handles the automatic cleanup of old session data.
type Service struct {
	repo          repository.Repository
	retentionDays int
	snapshotDir   string
	checkInterval time.Duration
	stopChan      chan struct{} // Channel to signal stopping the background routine
}

// NewService creates a new cleanup service.
func NewService(repo repository.Repository, retentionDays int, snapshotDir string, checkInterval time.Duration) *Service {
	if retentionDays <= 0 {
		log.Info("Automatic cleanup disabled (retention_days <= 0).")
		return nil // Return nil if cleanup is disabled
	}
	if repo == nil {
		log.Error("Cannot initialize cleanup service: repository is nil")
		return nil
	}
	log.Infof("Initializing cleanup service: RetentionDays=%d, SnapshotDir='%s', CheckInterval=%s", retentionDays, snapshotDir, checkInterval)
	return &Service{
		repo:          repo,
		retentionDays: retentionDays,
		snapshotDir:   snapshotDir,
		checkInterval: checkInterval,
		stopChan:      make(chan struct{}),
	}
}

// StartBackgroundCleanup starts a goroutine that periodically runs the cleanup cycle.
func (s *Service) StartBackgroundCleanup() {
	if s == nil {
		return // Service was not initialized (cleanup disabled)
	}
	log.Info("Starting background cleanup routine...")

	// Run cleanup once immediately on start
	go func() {
		log.Info("Running initial cleanup check on startup...")
		s.RunCleanupCycle()
	}()

	ticker := time.NewTicker(s.checkInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				log.Info("Running scheduled cleanup cycle...")
				s.RunCleanupCycle()
			case <-s.stopChan:
				log.Info("Stopping background cleanup routine.")
				return
			}
		}
	}()
}

// StopBackgroundCleanup signals the background cleanup routine to stop.
func (s *Service) StopBackgroundCleanup() {
	if s == nil || s.stopChan == nil {
		return
	}
	// Check if channel is already closed to prevent panic
	select {
	case <-s.stopChan:
		// Already closed
	default:
		close(s.stopChan)
	}
}

// RunCleanupCycle performs one cleanup cycle, deleting session records older
// than the retention period and pruning snapshot files that no profile
// references anymore.
func (s *Service) RunCleanupCycle() {
	if s == nil || s.retentionDays <= 0 {
		log.Debug("Skipping cleanup cycle: service not initialized or cleanup disabled.")
		return
	}

	cutoffTime := time.Now().AddDate(0, 0, -s.retentionDays)
	log.Infof("Cleanup: Deleting session records older than %s", cutoffTime.Format(time.RFC3339))

	deleted, err := s.repo.DeleteSessionsBefore(cutoffTime)
	if err != nil {
		log.Errorf("Cleanup: Error deleting old sessions: %v", err)
		return
	}
	if deleted == 0 {
		log.Info("Cleanup: No old sessions found to delete.")
	} else {
		log.Infof("Cleanup: Deleted %d session record(s) older than retention period.", deleted)
	}

	s.pruneOrphanedSnapshots(cutoffTime)
}

// pruneOrphanedSnapshots removes snapshot files in the snapshot directory
// that are older than the cutoff and no longer referenced by any profile.
// Enrollment snapshots of existing profiles are always kept.
func (s *Service) pruneOrphanedSnapshots(cutoffTime time.Time) {
	if s.snapshotDir == "" {
		return
	}

	profiles, err := s.repo.GetProfiles()
	if err != nil {
		log.Errorf("Cleanup: Error loading profiles for snapshot pruning: %v", err)
		return
	}
	referenced := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		if p.SnapshotPath != "" {
			referenced[filepath.Base(p.SnapshotPath)] = true
		}
	}

	entries, err := os.ReadDir(s.snapshotDir)
	if err != nil {
		log.Errorf("Cleanup: Error reading snapshot directory '%s': %v", s.snapshotDir, err)
		return
	}

	prunedCount := 0
	failedCount := 0
	for _, entry := range entries {
		if entry.IsDir() || referenced[entry.Name()] {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoffTime) {
			continue
		}
		snapshotPath := filepath.Join(s.snapshotDir, entry.Name())
		if err := os.Remove(snapshotPath); err != nil {
			log.Warnf("Cleanup: Failed to delete orphaned snapshot '%s': %v", snapshotPath, err)
			failedCount++
		} else {
			log.Debugf("Cleanup: Deleted orphaned snapshot '%s'", snapshotPath)
			prunedCount++
		}
	}

	if prunedCount > 0 || failedCount > 0 {
		log.Infof("Cleanup cycle finished. Snapshots pruned: %d, Failed: %d", prunedCount, failedCount)
	}
}
