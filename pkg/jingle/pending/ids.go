package pending

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// DefaultIDPrefix префикс идентификаторов транзакций по умолчанию
const DefaultIDPrefix = "jj"

// IDs генератор идентификаторов транзакций вида <prefix>_<scope>_<n>
// с монотонным счетчиком в пределах области (сессии или комнаты)
type IDs struct {
	prefix string
	scope  string
	n      atomic.Uint64
}

// NewIDs создает генератор для области scope
func NewIDs(prefix, scope string) *IDs {
	if prefix == "" {
		prefix = DefaultIDPrefix
	}
	return &IDs{prefix: prefix, scope: scope}
}

// Next возвращает следующий идентификатор
func (g *IDs) Next() string {
	return g.prefix + "_" + g.scope + "_" + strconv.FormatUint(g.n.Add(1), 10)
}

// ParseID разбирает идентификатор вида <prefix>_<scope>_<n>. Область может
// содержать символ "_", префикс и счетчик нет.
func ParseID(id string) (prefix, scope string, n uint64, ok bool) {
	first := strings.IndexByte(id, '_')
	last := strings.LastIndexByte(id, '_')
	if first <= 0 || last <= first+1 || last == len(id)-1 {
		return "", "", 0, false
	}
	n, err := strconv.ParseUint(id[last+1:], 10, 64)
	if err != nil {
		return "", "", 0, false
	}
	return id[:first], id[first+1 : last], n, true
}
