package sqlmodel

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// DomainNode prefixes every node hash. The version suffix allows the
// encoding to change without colliding with older hashes.
const DomainNode = "sqlmodels/node/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// nodeHash hashes the resolved template and, for every reference in sorted
// order, its name and the child's hash. Each string is length-prefixed so
// no two inputs share an encoding.
func nodeHash(sql string, refNames []string, childHash func(string) string) string {
	var buf []byte
	buf = appendString(buf, sql)
	buf = binary.AppendUvarint(buf, uint64(len(refNames)))
	for _, name := range refNames {
		buf = appendString(buf, name)
		buf = appendString(buf, childHash(name))
	}
	return hashWithDomain(DomainNode, buf)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}
