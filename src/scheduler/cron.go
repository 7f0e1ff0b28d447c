package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/cryptvault/api/src/quota"
	"github.com/cryptvault/api/src/sweeper"
)

// UserLister enumerates every active user id for the daily quota audit.
type UserLister interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}

var (
	mu          sync.Mutex
	cronRunner  *cron.Cron
	sweeperRef  *sweeper.Sweeper
	ledgerRef   *quota.Ledger
	usersRef    UserLister
	logger      *logrus.Logger
	cronParser  = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sweepSpec   = "0 * * * *" // hourly, on the hour
	auditSpec   = "0 2 * * *" // daily at 02:00
	jobTimeout  = 10 * time.Minute
)

// Start registers and starts the expiry sweep and quota audit cron jobs.
func Start(sw *sweeper.Sweeper, ledger *quota.Ledger, users UserLister, log *logrus.Logger) error {
	if sw == nil || ledger == nil || users == nil {
		return fmt.Errorf("scheduler: sweeper, ledger, and user lister are required")
	}

	mu.Lock()
	defer mu.Unlock()

	sweeperRef = sw
	ledgerRef = ledger
	usersRef = users
	logger = log

	return startLocked()
}

// Restart restarts the scheduler against the currently configured
// dependencies, re-parsing the cron specs. Useful for tests and for
// picking up a schedule change without a process restart.
func Restart() error {
	mu.Lock()
	defer mu.Unlock()

	if sweeperRef == nil || ledgerRef == nil || usersRef == nil {
		return fmt.Errorf("scheduler not initialized")
	}

	return startLocked()
}

func startLocked() error {
	if _, err := cronParser.Parse(sweepSpec); err != nil {
		return fmt.Errorf("invalid sweep schedule: %w", err)
	}
	if _, err := cronParser.Parse(auditSpec); err != nil {
		return fmt.Errorf("invalid audit schedule: %w", err)
	}

	if cronRunner != nil {
		ctx := cronRunner.Stop()
		<-ctx.Done()
	}

	cronRunner = cron.New(cron.WithParser(cronParser))

	// Capture globals to local variables to avoid a data race if Start/Restart
	// reassigns them while a previously-registered job is still running.
	sw := sweeperRef
	ledger := ledgerRef
	users := usersRef
	log := logger

	if _, err := cronRunner.AddFunc(sweepSpec, func() { runExpirySweepJob(sw, log) }); err != nil {
		return fmt.Errorf("register expiry sweep job: %w", err)
	}
	if _, err := cronRunner.AddFunc(auditSpec, func() { runQuotaAuditJob(ledger, users, log) }); err != nil {
		return fmt.Errorf("register quota audit job: %w", err)
	}

	cronRunner.Start()

	if logger != nil {
		logger.WithFields(logrus.Fields{"sweep": sweepSpec, "audit": auditSpec}).Info("scheduler started")
	}

	return nil
}

func runExpirySweepJob(sw *sweeper.Sweeper, log *logrus.Logger) {
	if sw == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	swept, err := sw.Run(ctx)
	if err != nil {
		if log != nil {
			log.WithError(err).Error("scheduler: expiry sweep failed")
		}
		return
	}
	if log != nil {
		log.WithField("swept", swept).Info("scheduler: expiry sweep completed")
	}
}

// runQuotaAuditJob recomputes used_bytes for every user and logs any case
// where the previously recorded value had drifted from the authoritative
// sum — a detection aid for the class of quota-drift bug a stray debit
// at init (rather than finalize) used to cause.
func runQuotaAuditJob(ledger *quota.Ledger, users UserLister, log *logrus.Logger) {
	if ledger == nil || users == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	ids, err := users.ListUserIDs(ctx)
	if err != nil {
		if log != nil {
			log.WithError(err).Error("scheduler: quota audit failed to list users")
		}
		return
	}

	drifted := 0
	for _, userID := range ids {
		_, recordedUsed, err := ledger.Info(ctx, userID)
		if err != nil {
			if log != nil {
				log.WithError(err).WithField("user_id", userID).Warn("scheduler: quota audit failed to read user")
			}
			continue
		}

		actual, err := ledger.Recompute(ctx, userID)
		if err != nil {
			if log != nil {
				log.WithError(err).WithField("user_id", userID).Warn("scheduler: quota audit failed to recompute user")
			}
			continue
		}

		if actual != recordedUsed {
			drifted++
			if log != nil {
				log.WithFields(logrus.Fields{
					"user_id":  userID,
					"recorded": recordedUsed,
					"actual":   actual,
				}).Warn("scheduler: quota drift detected and corrected")
			}
		}
	}

	if log != nil {
		log.WithFields(logrus.Fields{"users": len(ids), "drifted": drifted}).Info("scheduler: quota audit completed")
	}
}
