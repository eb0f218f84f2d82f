package database

import (
	"errors"

	"github.com/lib/pq"
)

// PostgreSQLのSQLSTATEコード。
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

// UniqueViolation はerrが一意制約違反であれば違反した制約名とtrueを返す。
func UniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return "", false
	}
	if string(pqErr.Code) != codeUniqueViolation {
		return "", false
	}
	return pqErr.Constraint, true
}

// IsForeignKeyViolation はerrが外部キー制約違反かどうかを返す。
func IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == codeForeignKeyViolation
}

// IsCheckViolation はerrがCHECK制約違反かどうかを返す。
func IsCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == codeCheckViolation
}
