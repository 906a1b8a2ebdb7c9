package txn

import (
	"fmt"
	"regexp"

	"gorm.io/gorm"
)

var savepointName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Savepointer is the nested-checkpoint capability a storage dialect offers.
// Postgres and sqlite both support SAVEPOINT natively.
type Savepointer interface {
	SavePoint(db *gorm.DB, name string) error
	RollbackTo(db *gorm.DB, name string) error
	Release(db *gorm.DB, name string) error
}

// NativeSavepoints issues SAVEPOINT / ROLLBACK TO / RELEASE statements.
type NativeSavepoints struct{}

func (NativeSavepoints) SavePoint(db *gorm.DB, name string) error {
	return db.SavePoint(name).Error
}

func (NativeSavepoints) RollbackTo(db *gorm.DB, name string) error {
	return db.RollbackTo(name).Error
}

func (NativeSavepoints) Release(db *gorm.DB, name string) error {
	return db.Exec("RELEASE SAVEPOINT " + name).Error
}

func validateSavepoint(name string) error {
	if !savepointName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidSavepoint, name)
	}
	return nil
}
