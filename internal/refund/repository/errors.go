package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// 저장소 에러 정의
var (
	ErrInsufficientRefundable = errors.New("refund exceeds remaining refundable amount")
	ErrTransactionMismatch    = errors.New("payment transaction does not belong to order")
	ErrNotPending             = errors.New("queue entry is not pending")
)

// mysqlDuplicateEntry MySQL ER_DUP_ENTRY
const mysqlDuplicateEntry = 1062

// isDuplicateKey 유니크 제약 위반 여부 (MySQL, SQLite 공통)
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
