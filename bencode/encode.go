package bencode

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

// Encode emits the canonical bencoding of a value produced by Decode.
// Dictionary keys are written in ascending byte order, so encoding a
// decoded value reproduces the original bytes.
func Encode(val interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeTo(&buf, val); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeTo(buf *bytes.Buffer, val interface{}) error {
	switch v := val.(type) {
	case string:
		buf.WriteString(strconv.Itoa(len(v)))
		buf.WriteByte(':')
		buf.WriteString(v)
	case []byte:
		buf.WriteString(strconv.Itoa(len(v)))
		buf.WriteByte(':')
		buf.Write(v)
	case int64:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v, 10))
		buf.WriteByte('e')
	case int:
		buf.WriteByte('i')
		buf.WriteString(strconv.Itoa(v))
		buf.WriteByte('e')
	case []interface{}:
		buf.WriteByte('l')
		for _, item := range v {
			if err := encodeTo(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
	case map[string]interface{}:
		buf.WriteByte('d')
		// Keys must be sorted in lexicographical order
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := encodeTo(buf, k); err != nil {
				return err
			}
			if err := encodeTo(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
	default:
		return fmt.Errorf("bencode: cannot encode value of type %T", val)
	}
	return nil
}
