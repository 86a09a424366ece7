package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrLinkNotFound signals that the requested short link does not exist.
	ErrLinkNotFound = errors.New("link not found")
	// ErrCodeTaken is returned by LinkRepository.Create when the short code is already assigned.
	ErrCodeTaken = errors.New("short code already taken")
	// ErrDuplicateClick is returned by ClickRepository.Append when the click id was already recorded.
	ErrDuplicateClick = errors.New("click already recorded")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
