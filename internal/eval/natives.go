package eval

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
)

// The dispatch table is the machine-checkable core of the safety gate:
// a closed mapping from (type, member, arity) to a native Go function.
// There is no general invocation machinery - if an operation is not in
// these tables, it cannot run, whatever the allowlist says about its
// namespace.

type nativeFunc func(args []any) (any, bool)

type staticKey struct {
	typ    string // canonical lowercase type name
	member string // lowercase member name
	arity  int
}

// encodingValue is the opaque handle for text encoding objects flowing
// through folded expressions ([Text.Encoding]::UTF8 and friends).
type encodingValue struct {
	name string // utf8, ascii, unicode, bigendianunicode, utf32
}

// hashValue is the opaque handle for hash algorithm objects
// ([Security.Cryptography.MD5]::Create() and friends).
type hashValue struct {
	algo string // md5, sha1, sha256, sha512
}

// Static evaluates an allowlisted static method call.
func (g *Gate) Static(typ, member string, args []any) (any, bool) {
	if !g.TypeAllowed(typ) {
		return nil, false
	}
	fn, ok := staticFuncs[staticKey{CanonicalType(typ), strings.ToLower(member), len(args)}]
	if !ok {
		return nil, false
	}
	return fn(args)
}

// StaticProp evaluates an allowlisted static property access.
func (g *Gate) StaticProp(typ, member string) (any, bool) {
	if !g.TypeAllowed(typ) {
		return nil, false
	}
	v, ok := staticProps[CanonicalType(typ)+"::"+strings.ToLower(member)]
	return v, ok
}

// Construct evaluates an allowlisted object construction
// (New-Object Some.Type args...).
func (g *Gate) Construct(typ string, args []any) (any, bool) {
	if !g.TypeAllowed(typ) {
		return nil, false
	}
	fn, ok := constructors[staticKey{CanonicalType(typ), "", len(args)}]
	if !ok {
		return nil, false
	}
	return fn(args)
}

// Instance evaluates a method call on an already-folded value. Dispatch
// is by the value's dynamic type; no gate check is needed because every
// reachable value type was produced by gated operations or literals.
func Instance(recv any, member string, args []any) (any, bool) {
	member = strings.ToLower(member)
	switch target := recv.(type) {
	case string:
		return stringMethod(target, member, args)
	case encodingValue:
		return encodingMethod(target, member, args)
	case hashValue:
		return hashMethod(target, member, args)
	}
	return nil, false
}

// InstanceProp evaluates a property read on an already-folded value.
func InstanceProp(recv any, member string) (any, bool) {
	switch strings.ToLower(member) {
	case "length":
		switch target := recv.(type) {
		case string:
			return int64(len(target)), true
		case []any:
			return int64(len(target)), true
		}
	case "count":
		if arr, ok := recv.([]any); ok {
			return int64(len(arr)), true
		}
	}
	return nil, false
}

var staticFuncs = map[staticKey]nativeFunc{
	// System.Convert
	{"system.convert", "tochar", 1}:           convertToChar,
	{"system.convert", "toint16", 1}:          convertToInt,
	{"system.convert", "toint32", 1}:          convertToInt,
	{"system.convert", "toint64", 1}:          convertToInt,
	{"system.convert", "tobyte", 1}:           convertToByte,
	{"system.convert", "todouble", 1}:         convertToDouble,
	{"system.convert", "toint32", 2}:          convertToIntBase,
	{"system.convert", "toint64", 2}:          convertToIntBase,
	{"system.convert", "tostring", 2}:         convertToStringBase,
	{"system.convert", "frombase64string", 1}: convertFromBase64,
	{"system.convert", "tobase64string", 1}:   convertToBase64,

	// System.Math
	{"system.math", "abs", 1}:      mathAbs,
	{"system.math", "floor", 1}:    mathUnary(math.Floor),
	{"system.math", "ceiling", 1}:  mathUnary(math.Ceil),
	{"system.math", "round", 1}:    mathUnary(math.Round),
	{"system.math", "truncate", 1}: mathUnary(math.Trunc),
	{"system.math", "sqrt", 1}:     mathFloat(math.Sqrt),
	{"system.math", "log", 1}:      mathFloat(math.Log),
	{"system.math", "exp", 1}:      mathFloat(math.Exp),
	{"system.math", "pow", 2}:      mathPow,
	{"system.math", "min", 2}:      mathMin,
	{"system.math", "max", 2}:      mathMax,

	// System.String
	{"system.string", "join", 2}:          stringJoin,
	{"system.string", "concat", 2}:        stringConcat,
	{"system.string", "concat", 3}:        stringConcat,
	{"system.string", "concat", 4}:        stringConcat,
	{"system.string", "format", 2}:        stringFormat,
	{"system.string", "format", 3}:        stringFormat,
	{"system.string", "format", 4}:        stringFormat,
	{"system.string", "isnullorempty", 1}: stringIsNullOrEmpty,

	// System.Char
	{"system.char", "toupper", 1}:         charToUpper,
	{"system.char", "tolower", 1}:         charToLower,
	{"system.char", "convertfromutf32", 1}: charFromUTF32,

	// System.Text.Encoding
	{"system.text.encoding", "getencoding", 1}: encodingGet,

	// System.BitConverter
	{"system.bitconverter", "tostring", 1}: bitConverterToString,

	// Hash factories
	{"system.security.cryptography.md5", "create", 0}:    hashCreate("md5"),
	{"system.security.cryptography.sha1", "create", 0}:   hashCreate("sha1"),
	{"system.security.cryptography.sha256", "create", 0}: hashCreate("sha256"),
	{"system.security.cryptography.sha512", "create", 0}: hashCreate("sha512"),
}

var staticProps = map[string]any{
	"system.text.encoding::utf8":             encodingValue{"utf8"},
	"system.text.encoding::ascii":            encodingValue{"ascii"},
	"system.text.encoding::unicode":          encodingValue{"unicode"},
	"system.text.encoding::bigendianunicode": encodingValue{"bigendianunicode"},
	"system.text.encoding::utf32":            encodingValue{"utf32"},
	"system.text.encoding::default":          encodingValue{"utf8"},
	"system.math::pi":                        float64(math.Pi),
	"system.math::e":                         float64(math.E),
}

var constructors = map[staticKey]nativeFunc{
	{"system.text.asciiencoding", "", 0}:   func([]any) (any, bool) { return encodingValue{"ascii"}, true },
	{"system.text.utf8encoding", "", 0}:    func([]any) (any, bool) { return encodingValue{"utf8"}, true },
	{"system.text.unicodeencoding", "", 0}: func([]any) (any, bool) { return encodingValue{"unicode"}, true },
	{"system.security.cryptography.md5cryptoserviceprovider", "", 0}: func([]any) (any, bool) {
		return hashValue{"md5"}, true
	},
	{"system.security.cryptography.sha1cryptoserviceprovider", "", 0}: func([]any) (any, bool) {
		return hashValue{"sha1"}, true
	},
	{"system.security.cryptography.sha256managed", "", 0}: func([]any) (any, bool) {
		return hashValue{"sha256"}, true
	},
}

// CharCode folds a conversion-to-single-character-code expression:
// an integral code point becomes a one-character string.
func CharCode(v any) (any, bool) {
	n, ok := asInt(v)
	if !ok || n < 0 || n > 0x10FFFF {
		return nil, false
	}
	return string(rune(n)), true
}

func convertToChar(args []any) (any, bool) { return CharCode(args[0]) }

func convertToInt(args []any) (any, bool) {
	if s, ok := args[0].(string); ok && len(s) == 1 {
		// Single characters convert by code point.
		return int64([]rune(s)[0]), true
	}
	return asIntResult(args[0])
}

func asIntResult(v any) (any, bool) {
	n, ok := asInt(v)
	if !ok {
		return nil, false
	}
	return n, true
}

func convertToByte(args []any) (any, bool) {
	n, ok := asInt(args[0])
	if !ok || n < 0 || n > 255 {
		return nil, false
	}
	return n, true
}

func convertToDouble(args []any) (any, bool) {
	f, ok := asFloat(args[0])
	if !ok {
		return nil, false
	}
	return f, true
}

func convertToIntBase(args []any) (any, bool) {
	s, ok := args[0].(string)
	if !ok {
		return nil, false
	}
	base, ok := asInt(args[1])
	if !ok || base < 2 || base > 36 {
		return nil, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), int(base), 64)
	if err != nil {
		return nil, false
	}
	return n, true
}

func convertToStringBase(args []any) (any, bool) {
	n, ok := asInt(args[0])
	if !ok {
		return nil, false
	}
	base, ok := asInt(args[1])
	if !ok || base < 2 || base > 36 {
		return nil, false
	}
	return strconv.FormatInt(n, int(base)), true
}

func convertFromBase64(args []any) (any, bool) {
	s, ok := args[0].(string)
	if !ok {
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, false
	}
	return bytesValue(raw), true
}

func convertToBase64(args []any) (any, bool) {
	b, ok := asBytes(args[0])
	if !ok {
		return nil, false
	}
	return base64.StdEncoding.EncodeToString(b), true
}

func mathAbs(args []any) (any, bool) {
	switch v := args[0].(type) {
	case int64:
		if v == math.MinInt64 {
			return nil, false
		}
		if v < 0 {
			return -v, true
		}
		return v, true
	case float64:
		return math.Abs(v), true
	}
	return nil, false
}

// mathUnary wraps a float operation that collapses back to int64 when the
// result is integral.
func mathUnary(fn func(float64) float64) nativeFunc {
	return func(args []any) (any, bool) {
		f, ok := asFloat(args[0])
		if !ok {
			return nil, false
		}
		r := fn(f)
		if r == float64(int64(r)) {
			return int64(r), true
		}
		return r, true
	}
}

func mathFloat(fn func(float64) float64) nativeFunc {
	return func(args []any) (any, bool) {
		f, ok := asFloat(args[0])
		if !ok {
			return nil, false
		}
		r := fn(f)
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return nil, false
		}
		return r, true
	}
}

func mathPow(args []any) (any, bool) {
	a, ok1 := asFloat(args[0])
	b, ok2 := asFloat(args[1])
	if !ok1 || !ok2 {
		return nil, false
	}
	r := math.Pow(a, b)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return nil, false
	}
	if r == float64(int64(r)) {
		return int64(r), true
	}
	return r, true
}

func mathMin(args []any) (any, bool) { return mathPick(args, true) }
func mathMax(args []any) (any, bool) { return mathPick(args, false) }

func mathPick(args []any, min bool) (any, bool) {
	a, ok1 := asFloat(args[0])
	b, ok2 := asFloat(args[1])
	if !ok1 || !ok2 {
		return nil, false
	}
	pick := a
	if (min && b < a) || (!min && b > a) {
		pick = b
	}
	if pick == float64(int64(pick)) {
		return int64(pick), true
	}
	return pick, true
}

func stringJoin(args []any) (any, bool) {
	sep := ToString(args[0])
	arr, ok := args[1].([]any)
	if !ok {
		return nil, false
	}
	parts := make([]string, len(arr))
	for i, e := range arr {
		parts[i] = ToString(e)
	}
	return strings.Join(parts, sep), true
}

func stringConcat(args []any) (any, bool) {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(ToString(a))
	}
	return b.String(), true
}

func stringFormat(args []any) (any, bool) {
	format, ok := args[0].(string)
	if !ok {
		return nil, false
	}
	return FormatPositional(format, args[1:])
}

func stringIsNullOrEmpty(args []any) (any, bool) {
	switch v := args[0].(type) {
	case nil:
		return true, true
	case string:
		return v == "", true
	}
	return false, true
}

func charToUpper(args []any) (any, bool) {
	s, ok := args[0].(string)
	if !ok || len([]rune(s)) != 1 {
		return nil, false
	}
	return strings.ToUpper(s), true
}

func charToLower(args []any) (any, bool) {
	s, ok := args[0].(string)
	if !ok || len([]rune(s)) != 1 {
		return nil, false
	}
	return strings.ToLower(s), true
}

func charFromUTF32(args []any) (any, bool) { return CharCode(args[0]) }

func encodingGet(args []any) (any, bool) {
	switch name := strings.ToLower(ToString(args[0])); name {
	case "utf-8", "utf8":
		return encodingValue{"utf8"}, true
	case "ascii", "us-ascii":
		return encodingValue{"ascii"}, true
	case "utf-16", "unicode":
		return encodingValue{"unicode"}, true
	case "utf-32":
		return encodingValue{"utf32"}, true
	}
	return nil, false
}

func bitConverterToString(args []any) (any, bool) {
	b, ok := asBytes(args[0])
	if !ok {
		return nil, false
	}
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02X", c)
	}
	return strings.Join(parts, "-"), true
}

func hashCreate(algo string) nativeFunc {
	return func([]any) (any, bool) { return hashValue{algo}, true }
}

// FormatPositional applies {N} positional substitution. Escaped braces
// double; format and alignment specifiers inside the braces are not
// modeled, so their presence means no fold.
func FormatPositional(format string, args []any) (any, bool) {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		switch ch := format[i]; ch {
		case '{':
			if i+1 < len(format) && format[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(format[i:], '}')
			if end < 0 {
				return nil, false
			}
			spec := format[i+1 : i+end]
			idx, err := strconv.Atoi(spec)
			if err != nil || idx < 0 || idx >= len(args) {
				return nil, false
			}
			b.WriteString(ToString(args[idx]))
			i += end
		case '}':
			if i+1 < len(format) && format[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return nil, false
		default:
			b.WriteByte(ch)
		}
	}
	return b.String(), true
}

func stringMethod(target, member string, args []any) (any, bool) {
	switch member {
	case "tolower", "tolowerinvariant":
		if len(args) == 0 {
			return strings.ToLower(target), true
		}
	case "toupper", "toupperinvariant":
		if len(args) == 0 {
			return strings.ToUpper(target), true
		}
	case "trim":
		if len(args) == 0 {
			return strings.TrimSpace(target), true
		}
		if len(args) == 1 {
			if cut, ok := args[0].(string); ok {
				return strings.Trim(target, cut), true
			}
		}
	case "replace":
		if len(args) == 2 {
			return strings.ReplaceAll(target, ToString(args[0]), ToString(args[1])), true
		}
	case "split":
		if len(args) == 0 {
			fields := strings.Fields(target)
			out := make([]any, len(fields))
			for i, f := range fields {
				out[i] = f
			}
			return out, true
		}
		if len(args) == 1 {
			sep := ToString(args[0])
			if sep == "" {
				return nil, false
			}
			parts := strings.Split(target, sep)
			out := make([]any, len(parts))
			for i, p := range parts {
				out[i] = p
			}
			return out, true
		}
	case "substring":
		runes := []rune(target)
		if len(args) == 1 {
			start, ok := asInt(args[0])
			if !ok || start < 0 || start > int64(len(runes)) {
				return nil, false
			}
			return string(runes[start:]), true
		}
		if len(args) == 2 {
			start, ok1 := asInt(args[0])
			count, ok2 := asInt(args[1])
			if !ok1 || !ok2 || start < 0 || count < 0 || start+count > int64(len(runes)) {
				return nil, false
			}
			return string(runes[start : start+count]), true
		}
	case "tochararray":
		if len(args) == 0 {
			runes := []rune(target)
			out := make([]any, len(runes))
			for i, r := range runes {
				out[i] = string(r)
			}
			return out, true
		}
	case "contains":
		if len(args) == 1 {
			return strings.Contains(target, ToString(args[0])), true
		}
	case "startswith":
		if len(args) == 1 {
			return strings.HasPrefix(target, ToString(args[0])), true
		}
	case "endswith":
		if len(args) == 1 {
			return strings.HasSuffix(target, ToString(args[0])), true
		}
	case "indexof":
		if len(args) == 1 {
			return int64(strings.Index(target, ToString(args[0]))), true
		}
	case "padleft":
		if len(args) == 1 {
			return padString(target, args[0], " ", true)
		}
		if len(args) == 2 {
			return padString(target, args[0], ToString(args[1]), true)
		}
	case "padright":
		if len(args) == 1 {
			return padString(target, args[0], " ", false)
		}
		if len(args) == 2 {
			return padString(target, args[0], ToString(args[1]), false)
		}
	case "insert":
		if len(args) == 2 {
			pos, ok := asInt(args[0])
			runes := []rune(target)
			if !ok || pos < 0 || pos > int64(len(runes)) {
				return nil, false
			}
			return string(runes[:pos]) + ToString(args[1]) + string(runes[pos:]), true
		}
	case "tostring":
		if len(args) == 0 {
			return target, true
		}
	}
	return nil, false
}

func padString(target string, width any, pad string, left bool) (any, bool) {
	w, ok := asInt(width)
	if !ok || w < 0 || w > 1<<16 || len(pad) != 1 {
		return nil, false
	}
	for int64(len([]rune(target))) < w {
		if left {
			target = pad + target
		} else {
			target += pad
		}
	}
	return target, true
}

func encodingMethod(enc encodingValue, member string, args []any) (any, bool) {
	if len(args) != 1 {
		return nil, false
	}
	switch member {
	case "getstring":
		b, ok := asBytes(args[0])
		if !ok {
			return nil, false
		}
		return decodeBytes(enc.name, b)
	case "getbytes":
		s, ok := args[0].(string)
		if !ok {
			return nil, false
		}
		raw, ok := encodeString(enc.name, s)
		if !ok {
			return nil, false
		}
		return bytesValue(raw), true
	}
	return nil, false
}

func decodeBytes(name string, b []byte) (any, bool) {
	switch name {
	case "utf8":
		return string(b), true
	case "ascii":
		out := make([]byte, len(b))
		for i, c := range b {
			out[i] = c & 0x7F
		}
		return string(out), true
	case "unicode":
		dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
		s, err := dec.Bytes(b)
		if err != nil {
			return nil, false
		}
		return string(s), true
	case "bigendianunicode":
		dec := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
		s, err := dec.Bytes(b)
		if err != nil {
			return nil, false
		}
		return string(s), true
	case "utf32":
		dec := utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM).NewDecoder()
		s, err := dec.Bytes(b)
		if err != nil {
			return nil, false
		}
		return string(s), true
	}
	return nil, false
}

func encodeString(name, s string) ([]byte, bool) {
	switch name {
	case "utf8":
		return []byte(s), true
	case "ascii":
		out := make([]byte, 0, len(s))
		for _, r := range s {
			if r > 0x7F {
				out = append(out, '?')
			} else {
				out = append(out, byte(r))
			}
		}
		return out, true
	case "unicode":
		enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
		raw, err := enc.Bytes([]byte(s))
		if err != nil {
			return nil, false
		}
		return raw, true
	case "bigendianunicode":
		enc := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewEncoder()
		raw, err := enc.Bytes([]byte(s))
		if err != nil {
			return nil, false
		}
		return raw, true
	case "utf32":
		enc := utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM).NewEncoder()
		raw, err := enc.Bytes([]byte(s))
		if err != nil {
			return nil, false
		}
		return raw, true
	}
	return nil, false
}

func hashMethod(h hashValue, member string, args []any) (any, bool) {
	if member != "computehash" || len(args) != 1 {
		return nil, false
	}
	b, ok := asBytes(args[0])
	if !ok {
		return nil, false
	}
	switch h.algo {
	case "md5":
		sum := md5.Sum(b)
		return bytesValue(sum[:]), true
	case "sha1":
		sum := sha1.Sum(b)
		return bytesValue(sum[:]), true
	case "sha256":
		sum := sha256.Sum256(b)
		return bytesValue(sum[:]), true
	case "sha512":
		sum := sha512.Sum512(b)
		return bytesValue(sum[:]), true
	}
	return nil, false
}
