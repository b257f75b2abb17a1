package qdrant

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	pb "github.com/qdrant/go-client/qdrant"
)

// toValue converts a JSON-compatible Go value into a Qdrant payload value.
func toValue(v any) *pb.Value {
	switch x := v.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{NullValue: pb.NullValue_NULL_VALUE}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: x}}
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: x}}
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return intValue(i)
		}
		if f, err := x.Float64(); err == nil {
			return doubleValue(f)
		}
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: x.String()}}
	case int:
		return intValue(int64(x))
	case int8:
		return intValue(int64(x))
	case int16:
		return intValue(int64(x))
	case int32:
		return intValue(int64(x))
	case int64:
		return intValue(x)
	case uint:
		return unsignedValue(uint64(x))
	case uint8:
		return intValue(int64(x))
	case uint16:
		return intValue(int64(x))
	case uint32:
		return intValue(int64(x))
	case uint64:
		return unsignedValue(x)
	case float32:
		return doubleValue(float64(x))
	case float64:
		return doubleValue(x)
	case map[string]any:
		return &pb.Value{Kind: &pb.Value_StructValue{StructValue: &pb.Struct{Fields: toPayload(x)}}}
	case []any:
		values := make([]*pb.Value, len(x))
		for i, e := range x {
			values[i] = toValue(e)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(x)}}
		}
		var generic any
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&generic); err != nil {
			return &pb.Value{Kind: &pb.Value_StringValue{StringValue: string(data)}}
		}
		return toValue(generic)
	}
}

func intValue(i int64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: i}}
}

// unsignedValue sends values above MaxInt64 as doubles instead of letting
// them wrap negative.
func unsignedValue(u uint64) *pb.Value {
	if u > math.MaxInt64 {
		return doubleValue(float64(u))
	}
	return intValue(int64(u))
}

func doubleValue(f float64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: f}}
}

// toPayload converts a field map into a Qdrant payload.
func toPayload(fields map[string]any) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(fields))
	for k, v := range fields {
		payload[k] = toValue(v)
	}
	return payload
}

// fromValue converts a Qdrant payload value back into a Go value.
func fromValue(v *pb.Value) any {
	switch k := v.GetKind().(type) {
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_StructValue:
		return fromPayload(k.StructValue.GetFields())
	case *pb.Value_ListValue:
		values := k.ListValue.GetValues()
		out := make([]any, len(values))
		for i, e := range values {
			out[i] = fromValue(e)
		}
		return out
	default:
		return nil
	}
}

func fromPayload(payload map[string]*pb.Value) map[string]any {
	fields := make(map[string]any, len(payload))
	for k, v := range payload {
		fields[k] = fromValue(v)
	}
	return fields
}

// pointID maps a record id onto a Qdrant point id. Unsigned integers
// become numeric ids, anything else is treated as a UUID.
func pointID(id string) *pb.PointId {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: n}}
	}
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
}

func formatPointID(p *pb.PointId) string {
	switch id := p.GetPointIdOptions().(type) {
	case *pb.PointId_Num:
		return strconv.FormatUint(id.Num, 10)
	case *pb.PointId_Uuid:
		return id.Uuid
	default:
		return ""
	}
}
