package stor

import (
	"os"
	"strconv"

	"gorm.io/gorm"
)

var txRetry int

func getTxRetry() int {
	if txRetry != 0 {
		return txRetry
	}

	count, err := strconv.Atoi(os.Getenv("DRIVED_TX_RETRY"))
	if err != nil || count < 3 {
		count = 3
	}

	txRetry = count

	return txRetry
}

func WithTxRetry(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error

	for i := 0; i < getTxRetry(); i++ {
		err = db.Transaction(fn)
		if err == nil {
			break
		}
	}

	return err
}
