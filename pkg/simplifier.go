package store

// simplifier.go implements the bidirectional JSON codec from spec.md section
// 4.4: live Go object graphs on one side, reference-flattened Document trees
// on the other. Per spec.md section 9 ("dynamic attributes / __dict__
// serialization... replace with explicit per-class schema descriptors"), the
// descriptor here is the `store:"field"` struct tag walked by reflection,
// rather than a free-form dict dump.
//
// Inter-object edges are modelled as plain Storable (or []Storable,
// map[string]Storable) interface fields rather than a distinct reference
// wrapper type: a field of interface type can hold either the live object or
// a *Proxy[T] (since both satisfy Storable), which is what lets Go, without
// runtime attribute interception, still let a proxy sit wherever the real
// object would. Resolve it back to a concrete type with As[T].
//
// © msm-tis authors.

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Reference is the on-disk edge form: (class tag, UUID), spec.md section 3.
type Reference struct {
	Cls  string `json:"cls"`
	UUID string `json:"uuid"`
}

// Document is the common on-disk schema from spec.md section 6.
type Document struct {
	ID     string         `json:"_id"`
	Class  string         `json:"_cls"`
	Fields map[string]any `json:"_fields"`
}

// arrayEnvelope is the typed-array wire form for small dense numeric slices.
type arrayEnvelope struct {
	Dtype string `json:"dtype"`
	Shape []int  `json:"shape"`
	B64   string `json:"b64"`
}

// Quantity is a units-tagged scalar (spec.md 4.4: "units-tagged quantities").
// Domain types that carry a physical quantity (time step, temperature, energy)
// embed or use this directly so the simplifier can special-case it instead of
// falling back to the generic nested-struct envelope.
type Quantity struct {
	Value float64
	Unit  string
}

// Placeholder stands in for a reference whose class tag is not registered
// (spec.md 4.4, 7). It carries the class tag and UUID from the reference;
// Raw is left nil, since no document body is fetched for it.
type Placeholder struct {
	Base
	Cls string
	Raw map[string]any
}

func (p *Placeholder) ClassTag() string { return p.Cls }

// refHost is the slice of *Storage the simplifier needs: ensuring a nested
// storable is saved (reference closure, invariant 3) and resolving a
// reference back to a live object or proxy.
type refHost interface {
	saveNested(s Storable) (Reference, error)
	resolveNested(ref Reference, eager bool) (Storable, error)
}

// simplifier holds no state of its own beyond the host; it is cheap to
// construct and safe to share.
type simplifier struct {
	host refHost
}

func newSimplifier(host refHost) *simplifier {
	return &simplifier{host: host}
}

var storableType = reflect.TypeOf((*Storable)(nil)).Elem()
var quantityType = reflect.TypeOf(Quantity{})

// toSimple converts v (addressable or not, any kind) into a JSON-ready value:
// nil, bool, string, a numeric primitive, an arrayEnvelope, a Reference, or a
// map[string]any / []any built recursively from the same rules.
func (s *simplifier) toSimple(v reflect.Value) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	// Unwrap interfaces (Storable, any) to their dynamic value first.
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, nil
		}
		return s.toSimple(v.Elem())
	}
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, nil
		}
		if st, ok := asStorable(v); ok {
			return s.saveRef(st)
		}
		return s.toSimple(v.Elem())
	}
	if st, ok := asStorable(v); ok {
		return s.saveRef(st)
	}
	if v.Type() == quantityType {
		q := v.Interface().(Quantity)
		return map[string]any{"value": q.Value, "unit": q.Unit}, nil
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.String:
		return v.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Slice, reflect.Array:
		return s.toSimpleSlice(v)
	case reflect.Map:
		return s.toSimpleMap(v)
	case reflect.Struct:
		return s.toSimpleStruct(v)
	default:
		return nil, fmt.Errorf("simplifier: unsupported kind %s", v.Kind())
	}
}

func (s *simplifier) saveRef(v reflect.Value) (any, error) {
	st := v.Interface().(Storable)
	ref, err := s.host.saveNested(st)
	if err != nil {
		return nil, err
	}
	return ref, nil
}

func asStorable(v reflect.Value) (reflect.Value, bool) {
	if !v.CanInterface() {
		return v, false
	}
	if v.Type().Implements(storableType) {
		if _, ok := v.Interface().(Storable); ok {
			return v, true
		}
	}
	return v, false
}

func (s *simplifier) toSimpleSlice(v reflect.Value) (any, error) {
	elemKind := v.Type().Elem().Kind()
	if elemKind == reflect.Uint8 {
		b := make([]byte, v.Len())
		reflect.Copy(reflect.ValueOf(b), v)
		return base64.StdEncoding.EncodeToString(b), nil
	}
	if isNumericKind(elemKind) && !v.Type().Elem().Implements(storableType) {
		return encodeArray(v)
	}
	out := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		sv, err := s.toSimple(v.Index(i))
		if err != nil {
			return nil, err
		}
		out[i] = sv
	}
	return out, nil
}

func (s *simplifier) toSimpleMap(v reflect.Value) (any, error) {
	out := make(map[string]any, v.Len())
	keys := v.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface()) })
	for _, k := range keys {
		sv, err := s.toSimple(v.MapIndex(k))
		if err != nil {
			return nil, err
		}
		out[fmt.Sprint(k.Interface())] = sv
	}
	return out, nil
}

// toSimpleStruct handles a nested, non-storable value type (spec.md 4.4:
// "nested non-storable classes -> {__class__, __dict__}"). Base is skipped:
// identity belongs to the Storable wrapping it, not to this envelope.
func (s *simplifier) toSimpleStruct(v reflect.Value) (any, error) {
	dict, err := s.fieldDict(v)
	if err != nil {
		return nil, err
	}
	return map[string]any{"__class__": v.Type().Name(), "__dict__": dict}, nil
}

// fieldDict walks the exported fields of a struct value using the
// `store:"name"` descriptor tag (spec.md section 9's schema-descriptor
// replacement for dynamic attribute dumping), skipping the embedded Base
// since identity belongs to the Storable wrapping it. Used both for the
// generic nested-struct envelope and for a sub-store's top-level document
// fields.
func (s *simplifier) fieldDict(v reflect.Value) (map[string]any, error) {
	t := v.Type()
	dict := make(map[string]any)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || (f.Anonymous && f.Type == reflect.TypeOf(Base{})) {
			continue
		}
		tag := f.Tag.Get("store")
		if tag == "-" {
			continue
		}
		name := f.Name
		if tag != "" {
			name = tag
		}
		fv, err := s.toSimple(v.Field(i))
		if err != nil {
			return nil, err
		}
		dict[name] = fv
	}
	return dict, nil
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func encodeArray(v reflect.Value) (any, error) {
	n := v.Len()
	dtype := v.Type().Elem().Kind().String()
	buf := make([]byte, 0, n*8)
	for i := 0; i < n; i++ {
		ev := v.Index(i)
		switch ev.Kind() {
		case reflect.Float32:
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(ev.Float())))
			buf = append(buf, b[:]...)
		case reflect.Float64:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(ev.Float()))
			buf = append(buf, b[:]...)
		case reflect.Int32:
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(ev.Int()))
			buf = append(buf, b[:]...)
		case reflect.Int64, reflect.Int:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(ev.Int()))
			buf = append(buf, b[:]...)
		case reflect.Uint32:
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(ev.Uint()))
			buf = append(buf, b[:]...)
		case reflect.Uint64, reflect.Uint:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], ev.Uint())
			buf = append(buf, b[:]...)
		default:
			return nil, fmt.Errorf("simplifier: unsupported array element kind %s", ev.Kind())
		}
	}
	return arrayEnvelope{Dtype: dtype, Shape: []int{n}, B64: base64.StdEncoding.EncodeToString(buf)}, nil
}

/* -------------------------------------------------------------------------
   from_simple
   ------------------------------------------------------------------------- */

// fromSimple reconstructs a value of type t from raw (the generic shape
// produced by encoding/json.Unmarshal into any: map[string]any, []any,
// string, float64 (json.Number territory avoided on purpose), bool, nil).
// eager controls whether Storable references resolve to live objects
// (forcing a load) or to unresolved proxies.
func (s *simplifier) fromSimple(raw any, t reflect.Type, eager bool) (reflect.Value, error) {
	if t == quantityType {
		m, ok := raw.(map[string]any)
		if !ok {
			return reflect.Value{}, fmt.Errorf("simplifier: expected quantity map, got %T", raw)
		}
		val, _ := m["value"].(float64)
		unit, _ := m["unit"].(string)
		return reflect.ValueOf(Quantity{Value: val, Unit: unit}), nil
	}
	if t.Implements(storableType) || (t.Kind() == reflect.Interface && t == storableType) {
		return s.fromSimpleRef(raw, t, eager)
	}

	switch t.Kind() {
	case reflect.Ptr:
		if raw == nil {
			return reflect.Zero(t), nil
		}
		elem := reflect.New(t.Elem())
		fv, err := s.fromSimple(raw, t.Elem(), eager)
		if err != nil {
			return reflect.Value{}, err
		}
		elem.Elem().Set(fv)
		return elem, nil
	case reflect.Bool:
		b, _ := raw.(bool)
		return reflect.ValueOf(b), nil
	case reflect.String:
		str, _ := raw.(string)
		return reflect.ValueOf(str).Convert(t), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, _ := raw.(float64)
		out := reflect.New(t).Elem()
		out.SetInt(int64(f))
		return out, nil
	case reflect.Uint, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f, _ := raw.(float64)
		out := reflect.New(t).Elem()
		out.SetUint(uint64(f))
		return out, nil
	case reflect.Float32, reflect.Float64:
		f, _ := raw.(float64)
		out := reflect.New(t).Elem()
		out.SetFloat(f)
		return out, nil
	case reflect.Slice:
		return s.fromSimpleSlice(raw, t, eager)
	case reflect.Map:
		return s.fromSimpleMap(raw, t, eager)
	case reflect.Struct:
		return s.fromSimpleStruct(raw, t, eager)
	case reflect.Interface:
		// Bare `any` field: hand back whatever JSON produced.
		return reflect.ValueOf(raw), nil
	default:
		return reflect.Value{}, fmt.Errorf("simplifier: unsupported target kind %s", t.Kind())
	}
}

func (s *simplifier) fromSimpleRef(raw any, t reflect.Type, eager bool) (reflect.Value, error) {
	if raw == nil {
		return reflect.Zero(t), nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return reflect.Value{}, fmt.Errorf("simplifier: expected reference map, got %T", raw)
	}
	ref := Reference{
		Cls:  fmt.Sprint(m["cls"]),
		UUID: fmt.Sprint(m["uuid"]),
	}
	obj, err := s.host.resolveNested(ref, eager)
	if err != nil {
		return reflect.Value{}, err
	}
	rv := reflect.ValueOf(obj)
	if t.Kind() != reflect.Interface && !rv.Type().AssignableTo(t) {
		return reflect.Value{}, fmt.Errorf("simplifier: resolved %s not assignable to %s", rv.Type(), t)
	}
	return rv, nil
}

func (s *simplifier) fromSimpleSlice(raw any, t reflect.Type, eager bool) (reflect.Value, error) {
	elemT := t.Elem()
	if elemT.Kind() == reflect.Uint8 {
		str, _ := raw.(string)
		b, err := base64.StdEncoding.DecodeString(str)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("simplifier: bad base64 bytes: %w", err)
		}
		return reflect.ValueOf(b), nil
	}
	if isNumericKind(elemT.Kind()) && !elemT.Implements(storableType) {
		return decodeArray(raw, t)
	}
	arr, ok := raw.([]any)
	if !ok {
		if raw == nil {
			return reflect.MakeSlice(t, 0, 0), nil
		}
		return reflect.Value{}, fmt.Errorf("simplifier: expected array, got %T", raw)
	}
	out := reflect.MakeSlice(t, len(arr), len(arr))
	for i, item := range arr {
		fv, err := s.fromSimple(item, elemT, eager)
		if err != nil {
			return reflect.Value{}, err
		}
		out.Index(i).Set(fv)
	}
	return out, nil
}

func decodeArray(raw any, t reflect.Type) (reflect.Value, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return reflect.Value{}, fmt.Errorf("simplifier: expected array envelope, got %T", raw)
	}
	b64, _ := m["b64"].(string)
	buf, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("simplifier: bad base64 array: %w", err)
	}
	elemT := t.Elem()
	var n int
	switch elemT.Kind() {
	case reflect.Float32, reflect.Int32, reflect.Uint32:
		n = len(buf) / 4
	default:
		n = len(buf) / 8
	}
	out := reflect.MakeSlice(t, n, n)
	for i := 0; i < n; i++ {
		switch elemT.Kind() {
		case reflect.Float32:
			bits := binary.LittleEndian.Uint32(buf[i*4:])
			out.Index(i).SetFloat(float64(math.Float32frombits(bits)))
		case reflect.Float64:
			bits := binary.LittleEndian.Uint64(buf[i*8:])
			out.Index(i).SetFloat(math.Float64frombits(bits))
		case reflect.Int32:
			out.Index(i).SetInt(int64(int32(binary.LittleEndian.Uint32(buf[i*4:]))))
		case reflect.Int64, reflect.Int:
			out.Index(i).SetInt(int64(binary.LittleEndian.Uint64(buf[i*8:])))
		case reflect.Uint32:
			out.Index(i).SetUint(uint64(binary.LittleEndian.Uint32(buf[i*4:])))
		case reflect.Uint64, reflect.Uint:
			out.Index(i).SetUint(binary.LittleEndian.Uint64(buf[i*8:]))
		default:
			return reflect.Value{}, fmt.Errorf("simplifier: unsupported array element kind %s", elemT.Kind())
		}
	}
	return out, nil
}

func (s *simplifier) fromSimpleMap(raw any, t reflect.Type, eager bool) (reflect.Value, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		if raw == nil {
			return reflect.MakeMap(t), nil
		}
		return reflect.Value{}, fmt.Errorf("simplifier: expected object, got %T", raw)
	}
	out := reflect.MakeMapWithSize(t, len(m))
	valT := t.Elem()
	for k, v := range m {
		fv, err := s.fromSimple(v, valT, eager)
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), fv)
	}
	return out, nil
}

// fromSimpleStruct reconstructs a nested non-storable value. The target Go
// type is already known from the enclosing field, so __class__ is read back
// only for diagnostics; it never drives which type gets constructed.
func (s *simplifier) fromSimpleStruct(raw any, t reflect.Type, eager bool) (reflect.Value, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return reflect.Value{}, fmt.Errorf("simplifier: expected class envelope, got %T", raw)
	}
	dict, _ := m["__dict__"].(map[string]any)
	return s.decodeFields(dict, t, eager)
}

// decodeFields is the inverse of fieldDict, used both for the nested-struct
// envelope and for reconstructing a sub-store's top-level document.
func (s *simplifier) decodeFields(dict map[string]any, t reflect.Type, eager bool) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || (f.Anonymous && f.Type == reflect.TypeOf(Base{})) {
			continue
		}
		tag := f.Tag.Get("store")
		if tag == "-" {
			continue
		}
		name := f.Name
		if tag != "" {
			name = tag
		}
		raw, present := dict[name]
		if !present {
			continue
		}
		fv, err := s.fromSimple(raw, f.Type, eager)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("simplifier: field %s.%s: %w", t.Name(), name, err)
		}
		out.Field(i).Set(fv)
	}
	return out, nil
}

/* -------------------------------------------------------------------------
   As: resolve a Storable interface value that may actually be a proxy
   ------------------------------------------------------------------------- */

// As type-asserts s into T, transparently resolving one level of Proxy[T]
// first if needed. This is the call site equivalent of spec.md 4.3's "the
// first field access triggers load": callers reach for the concrete type via
// As instead of a language-level attribute hook.
func As[T Storable](s Storable) (T, error) {
	var zero T
	if s == nil {
		return zero, nil
	}
	if t, ok := s.(T); ok {
		return t, nil
	}
	if r, ok := s.(resolver); ok {
		resolved, err := r.resolve()
		if err != nil {
			return zero, err
		}
		t, ok := resolved.(T)
		if !ok {
			return zero, fmt.Errorf("store: reference resolved to %T, want %T", resolved, zero)
		}
		return t, nil
	}
	return zero, fmt.Errorf("store: %T does not hold a %T", s, zero)
}
