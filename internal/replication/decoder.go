package replication

import (
	"encoding/binary"
	"encoding/json"
	"strconv"

	"github.com/dosco/livequery/internal/rowvalue"
)

// Decoder maintains the relation cache and turns raw pgoutput frames into
// Changes.
type Decoder struct {
	rels map[uint32]*relCache
}

func NewDecoder() *Decoder {
	return &Decoder{rels: make(map[uint32]*relCache)}
}

// Table returns the cached table name for a relation OID, if known.
func (d *Decoder) Table(rel uint32) (string, bool) {
	r, ok := d.rels[rel]
	if !ok {
		return "", false
	}
	return r.table, true
}

// Decode parses one pgoutput message. It returns (Change{}, false) for
// messages too short to be well-formed or that reference an unknown
// relation, dropping the message silently rather than erroring.
func (d *Decoder) Decode(data []byte) (Change, bool) {
	if len(data) == 0 {
		return Change{}, false
	}
	switch data[0] {
	case 'B':
		if len(data) < 21 {
			return Change{}, false
		}
		return Change{Kind: KindBegin}, true
	case 'C':
		if len(data) < 26 {
			return Change{}, false
		}
		return Change{Kind: KindCommit}, true
	case 'R':
		return d.parseRelation(data)
	case 'I':
		return d.parseInsert(data)
	case 'U':
		return d.parseUpdate(data)
	case 'D':
		return d.parseDelete(data)
	case 'T':
		return d.parseTruncate(data)
	default:
		return Change{Kind: KindOther}, true
	}
}

func (d *Decoder) parseRelation(data []byte) (Change, bool) {
	p := 1
	relID, ok := readUint32(data, &p)
	if !ok {
		return Change{}, false
	}
	if !skipCString(data, &p) { // namespace
		return Change{}, false
	}
	table, ok := readCString(data, &p)
	if !ok {
		return Change{}, false
	}
	p++ // replica identity byte
	nCols, ok := readUint16(data, &p)
	if !ok {
		return Change{}, false
	}

	cols := make([]colMeta, 0, nCols)
	for i := 0; i < int(nCols); i++ {
		p++ // flags
		name, ok := readCString(data, &p)
		if !ok {
			return Change{}, false
		}
		oid, ok := readUint32(data, &p)
		if !ok {
			return Change{}, false
		}
		p += 4 // type modifier
		cols = append(cols, colMeta{name: lowercase(name), oid: oid})
	}

	colNames := make([]string, len(cols))
	for i, c := range cols {
		colNames[i] = c.name
	}

	d.rels[relID] = &relCache{table: lowercase(table), cols: cols, colNames: colNames}
	return Change{Kind: KindOther}, true
}

func (d *Decoder) parseInsert(data []byte) (Change, bool) {
	p := 1
	rel, ok := readUint32(data, &p)
	if !ok {
		return Change{}, false
	}
	cache, ok := d.rels[rel]
	if !ok {
		return Change{}, false
	}
	if p >= len(data) || data[p] != 'N' {
		return Change{}, false
	}
	p++
	row, ok := parseTuple(data, &p, cache)
	if !ok {
		return Change{}, false
	}
	return Change{Kind: KindInsert, Rel: rel, Table: cache.table, Row: row}, true
}

func (d *Decoder) parseUpdate(data []byte) (Change, bool) {
	p := 1
	rel, ok := readUint32(data, &p)
	if !ok {
		return Change{}, false
	}
	cache, ok := d.rels[rel]
	if !ok {
		return Change{}, false
	}

	if p < len(data) && (data[p] == 'K' || data[p] == 'O') {
		p++
		if !skipTuple(data, &p) {
			return Change{}, false
		}
	}

	if p >= len(data) || data[p] != 'N' {
		return Change{}, false
	}
	p++
	row, ok := parseTuple(data, &p, cache)
	if !ok {
		return Change{}, false
	}
	return Change{Kind: KindUpdate, Rel: rel, Table: cache.table, Row: row}, true
}

func (d *Decoder) parseDelete(data []byte) (Change, bool) {
	p := 1
	rel, ok := readUint32(data, &p)
	if !ok {
		return Change{}, false
	}
	// Old row contents are not consulted for filtering deletes.
	cache, ok := d.rels[rel]
	if !ok {
		return Change{}, false
	}
	return Change{Kind: KindDelete, Rel: rel, Table: cache.table}, true
}

func (d *Decoder) parseTruncate(data []byte) (Change, bool) {
	p := 1
	n, ok := readUint32(data, &p)
	if !ok {
		return Change{}, false
	}
	p++ // options
	rels := make([]uint32, 0, n)
	for i := 0; i < int(n); i++ {
		r, ok := readUint32(data, &p)
		if !ok {
			return Change{}, false
		}
		rels = append(rels, r)
	}
	return Change{Kind: KindTruncate, Rels: rels}, true
}

// parseTuple reads a 2-byte column count followed by one tagged value per
// cached column.
func parseTuple(data []byte, p *int, cache *relCache) (rowvalue.Row, bool) {
	n, ok := readUint16(data, p)
	if !ok {
		return rowvalue.Row{}, false
	}
	count := int(n)
	if count > len(cache.cols) {
		count = len(cache.cols)
	}
	values := make([]rowvalue.Value, count)
	for i := 0; i < count; i++ {
		if *p >= len(data) {
			return rowvalue.Row{}, false
		}
		tag := data[*p]
		*p++
		switch tag {
		case 'n', 'u':
			values[i] = rowvalue.Null()
		case 't':
			raw, ok := readLenPrefixed(data, p)
			if !ok {
				return rowvalue.Row{}, false
			}
			values[i] = decodeTextValue(cache.cols[i].oid, raw)
		case 'b':
			raw, ok := readLenPrefixed(data, p)
			if !ok {
				return rowvalue.Row{}, false
			}
			values[i] = rowvalue.Bytes(append([]byte(nil), raw...))
		default:
			return rowvalue.Row{}, false
		}
	}
	return rowvalue.NewRow(cache.colNames, values), true
}

func skipTuple(data []byte, p *int) bool {
	n, ok := readUint16(data, p)
	if !ok {
		return false
	}
	for i := 0; i < int(n); i++ {
		if *p >= len(data) {
			return false
		}
		tag := data[*p]
		*p++
		switch tag {
		case 'n', 'u':
		case 't', 'b':
			if _, ok := readLenPrefixed(data, p); !ok {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// decodeTextValue parses a column's text-format bytes into a typed Value
// by OID: booleans, signed integers, floats, and JSON get their native
// type; everything else stays a string.
func decodeTextValue(oid uint32, raw []byte) rowvalue.Value {
	s := string(raw)
	switch oid {
	case oidBool:
		return rowvalue.Bool(s == "t")
	case oidInt2, oidInt4, oidInt8:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return rowvalue.Int(n)
		}
		return rowvalue.String(s)
	case oidFloat4, oidFloat8, oidNumeric:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return rowvalue.Float(f)
		}
		return rowvalue.String(s)
	case oidJSON, oidJSONB:
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return rowvalue.JSON(v)
		}
		return rowvalue.String(s)
	default:
		return rowvalue.String(s)
	}
}

func readUint32(data []byte, p *int) (uint32, bool) {
	if *p+4 > len(data) {
		return 0, false
	}
	v := binary.BigEndian.Uint32(data[*p:])
	*p += 4
	return v, true
}

func readUint16(data []byte, p *int) (uint16, bool) {
	if *p+2 > len(data) {
		return 0, false
	}
	v := binary.BigEndian.Uint16(data[*p:])
	*p += 2
	return v, true
}

func readLenPrefixed(data []byte, p *int) ([]byte, bool) {
	n, ok := readUint32(data, p)
	if !ok {
		return nil, false
	}
	if *p+int(n) > len(data) {
		return nil, false
	}
	v := data[*p : *p+int(n)]
	*p += int(n)
	return v, true
}

func readCString(data []byte, p *int) (string, bool) {
	start := *p
	for *p < len(data) {
		if data[*p] == 0 {
			s := string(data[start:*p])
			*p++
			return s, true
		}
		*p++
	}
	return "", false
}

func skipCString(data []byte, p *int) bool {
	_, ok := readCString(data, p)
	return ok
}

func lowercase(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
