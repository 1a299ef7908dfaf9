package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

// undefinedTable is the SQLSTATE for a missing relation.
const undefinedTable = "42P01"

// mapError turns a missing dataset into ErrDataUnavailable.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return fmt.Errorf("%w: %s", telemetry.ErrDataUnavailable, pgErr.Message)
	}
	return err
}
