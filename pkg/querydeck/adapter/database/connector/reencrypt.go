package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
	"github.com/tigerroll/querydeck/pkg/querydeck/security/vault"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

// ReEncrypter rewrites a ciphertext in the current vault format.
type ReEncrypter interface {
	ReEncrypt(ciphertext string) (string, error)
}

// ReEncryptReport summarizes a ReEncryptPasswords run.
type ReEncryptReport struct {
	Scanned int      `json:"scanned"`
	Updated int      `json:"updated"`
	Failed  []string `json:"failed,omitempty"`
}

// ReEncryptPasswords rewrites stored connection passwords in the current format.
// Only legacy ciphertexts are rewritten unless all is set. A connection that
// fails does not stop the others; the failures are returned together.
func ReEncryptPasswords(ctx context.Context, connections repository.Connections, v ReEncrypter, all bool, now time.Time) (*ReEncryptReport, error) {
	list, err := connections.ListConnections(ctx)
	if err != nil {
		return nil, err
	}
	report := &ReEncryptReport{Scanned: len(list)}
	var errs *multierror.Error
	for _, c := range list {
		if c.EncryptedPassword == "" || (!all && !vault.IsLegacy(c.EncryptedPassword)) {
			continue
		}
		next, err := v.ReEncrypt(c.EncryptedPassword)
		if err == nil {
			c.EncryptedPassword = next
			c.UpdatedAt = now
			err = connections.SaveConnection(ctx, c)
		}
		if err != nil {
			report.Failed = append(report.Failed, c.ID)
			errs = multierror.Append(errs, fmt.Errorf("connection %s: %w", c.ID, err))
			continue
		}
		report.Updated++
	}
	logger.Infof("connector: re-encrypted %d of %d connection passwords", report.Updated, report.Scanned)
	return report, errs.ErrorOrNil()
}
