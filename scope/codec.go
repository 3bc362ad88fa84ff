package scope

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

const (
	kindTime     = "time"
	kindSpectral = "spectral"
)

// encodeTimeFrame converts the time frame into its wire representation.
func encodeTimeFrame(timeFrame *TimeFrame) *structpb.Struct {
	values := make(map[string]*structpb.Value, len(timeFrame.Values))
	for channel, samples := range timeFrame.Values {
		values[string(channel)] = numberList(samples)
	}
	history := make(map[string]*structpb.Value, len(timeFrame.History))
	for channel, frames := range timeFrame.History {
		list := make([]*structpb.Value, len(frames))
		for i, frame := range frames {
			list[i] = numberList(frame)
		}
		history[string(channel)] = structpb.NewListValue(&structpb.ListValue{Values: list})
	}
	measurements := make([]*structpb.Value, len(timeFrame.Measurements))
	for i, line := range timeFrame.Measurements {
		measurements[i] = structpb.NewStringValue(line)
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"kind":           structpb.NewStringValue(kindTime),
		"stream":         structpb.NewStringValue(string(timeFrame.Stream)),
		"timestamp":      structpb.NewStringValue(timeFrame.Timestamp.Format(time.RFC3339Nano)),
		"sample_rate":    structpb.NewNumberValue(timeFrame.SampleRate),
		"time_window":    structpb.NewNumberValue(timeFrame.TimeWindow),
		"voltage_range":  structpb.NewNumberValue(timeFrame.VoltageRange),
		"voltage_center": structpb.NewNumberValue(timeFrame.VoltageCenter),
		"values":         structpb.NewStructValue(&structpb.Struct{Fields: values}),
		"history":        structpb.NewStructValue(&structpb.Struct{Fields: history}),
		"measurements":   structpb.NewListValue(&structpb.ListValue{Values: measurements}),
	}}
}

// encodeSpectralFrame converts the spectral frame into its wire representation.
func encodeSpectralFrame(spectralFrame *SpectralFrame) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"kind":              structpb.NewStringValue(kindSpectral),
		"stream":            structpb.NewStringValue(string(spectralFrame.Stream)),
		"timestamp":         structpb.NewStringValue(spectralFrame.Timestamp.Format(time.RFC3339Nano)),
		"from_frequency":    structpb.NewNumberValue(spectralFrame.FromFrequency),
		"to_frequency":      structpb.NewNumberValue(spectralFrame.ToFrequency),
		"values":            numberList(spectralFrame.Values),
		"frequency_markers": markerStruct(spectralFrame.FrequencyMarkers),
		"magnitude_markers": markerStruct(spectralFrame.MagnitudeMarkers),
	}}
}

func numberList(values []float64) *structpb.Value {
	list := make([]*structpb.Value, len(values))
	for i, v := range values {
		list[i] = structpb.NewNumberValue(v)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: list})
}

func markerStruct(markers map[MarkerID]float64) *structpb.Value {
	fields := make(map[string]*structpb.Value, len(markers))
	for marker, value := range markers {
		fields[string(marker)] = structpb.NewNumberValue(value)
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: fields})
}

// decodeFrame converts a wire frame back into either a time frame or a spectral frame.
func decodeFrame(raw *structpb.Struct) (*TimeFrame, *SpectralFrame, error) {
	fields := raw.GetFields()
	frame := Frame{
		Stream: StreamID(fields["stream"].GetStringValue()),
	}
	timestamp, err := time.Parse(time.RFC3339Nano, fields["timestamp"].GetStringValue())
	if err == nil {
		frame.Timestamp = timestamp
	}

	switch kind := fields["kind"].GetStringValue(); kind {
	case kindTime:
		result := &TimeFrame{
			Frame:         frame,
			SampleRate:    fields["sample_rate"].GetNumberValue(),
			TimeWindow:    fields["time_window"].GetNumberValue(),
			VoltageRange:  fields["voltage_range"].GetNumberValue(),
			VoltageCenter: fields["voltage_center"].GetNumberValue(),
			Values:        make(map[ChannelID][]float64),
			History:       make(map[ChannelID][][]float64),
		}
		for channel, value := range fields["values"].GetStructValue().GetFields() {
			result.Values[ChannelID(channel)] = readNumbers(value)
		}
		for channel, value := range fields["history"].GetStructValue().GetFields() {
			list := value.GetListValue().GetValues()
			frames := make([][]float64, len(list))
			for i, v := range list {
				frames[i] = readNumbers(v)
			}
			result.History[ChannelID(channel)] = frames
		}
		for _, line := range fields["measurements"].GetListValue().GetValues() {
			result.Measurements = append(result.Measurements, line.GetStringValue())
		}
		return result, nil, nil
	case kindSpectral:
		result := &SpectralFrame{
			Frame:            frame,
			FromFrequency:    fields["from_frequency"].GetNumberValue(),
			ToFrequency:      fields["to_frequency"].GetNumberValue(),
			Values:           readNumbers(fields["values"]),
			FrequencyMarkers: readMarkers(fields["frequency_markers"]),
			MagnitudeMarkers: readMarkers(fields["magnitude_markers"]),
		}
		return nil, result, nil
	default:
		return nil, nil, fmt.Errorf("unknown frame kind %q", kind)
	}
}

func readNumbers(value *structpb.Value) []float64 {
	list := value.GetListValue().GetValues()
	result := make([]float64, len(list))
	for i, v := range list {
		result[i] = v.GetNumberValue()
	}
	return result
}

func readMarkers(value *structpb.Value) map[MarkerID]float64 {
	result := make(map[MarkerID]float64)
	for marker, v := range value.GetStructValue().GetFields() {
		result[MarkerID(marker)] = v.GetNumberValue()
	}
	return result
}
