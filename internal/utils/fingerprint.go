package utils

import (
	"encoding/binary"
	"torii_shield/internal/dataType"
)

const fingerprintHeader = 1 + 8

// Fingerprint builds the verdict cache key for a field value: the field,
// the rule set version and the raw value. The key is allocated from pool,
// normally the request arena. Values longer than maxValue are not cached
// and yield ok == false.
func Fingerprint(pool dataType.Pool, field dataType.Field, version uint64, value []byte, maxValue int) ([]byte, bool, error) {
	if maxValue > 0 && len(value) > maxValue {
		return nil, false, nil
	}
	key, err := pool.Allocate(fingerprintHeader + len(value))
	if err != nil {
		return nil, false, err
	}
	key[0] = byte(field)
	binary.LittleEndian.PutUint64(key[1:fingerprintHeader], version)
	copy(key[fingerprintHeader:], value)
	return key, true, nil
}
