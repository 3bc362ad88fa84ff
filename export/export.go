// Package export writes the raw channel buffers to files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/segmentio/parquet-go"

	"github.com/ftl/fpgascope/frame"
)

// Data is one set of channel buffers in the raw zero-centered code domain.
type Data struct {
	Channel    frame.ChannelCode
	SampleRate float64
	CH0        []int16
	CH1        []int16
}

// Dual is true if both channels are exported. This needs dual channel mode and buffers of the same length.
func (d Data) Dual() bool {
	return d.Channel.Dual() && len(d.CH1) == len(d.CH0)
}

func (d Data) timeOf(i int) float64 {
	return float64(i) / max(1, d.SampleRate)
}

// QuickSaveName returns the file name for a quick save at the given time.
func QuickSaveName(t time.Time) string {
	return t.Format("wave_20060102_150405.csv")
}

// WriteCSV writes the samples as CSV. The header is "t(s),CH0,CH1" for dual channel data, otherwise "t(s),value".
// The time column has nine decimal places, the values are integers.
func WriteCSV(w io.Writer, data Data) error {
	out := csv.NewWriter(w)
	dual := data.Dual()

	header := []string{"t(s)", "value"}
	if dual {
		header = []string{"t(s)", "CH0", "CH1"}
	}
	if err := out.Write(header); err != nil {
		return err
	}

	for i, value := range data.CH0 {
		record := []string{
			strconv.FormatFloat(data.timeOf(i), 'f', 9, 64),
			strconv.Itoa(int(value)),
		}
		if dual {
			record = append(record, strconv.Itoa(int(data.CH1[i])))
		}
		if err := out.Write(record); err != nil {
			return err
		}
	}

	out.Flush()
	return out.Error()
}

// SaveCSV writes the samples into the given file.
func SaveCSV(filename string, data Data) error {
	return saveFile(filename, data, WriteCSV)
}

// Row is one sample in the Parquet file.
type Row struct {
	Time float64 `parquet:"t"`
	CH0  int32   `parquet:"CH0"`
	CH1  int32   `parquet:"CH1"`
}

// WriteParquet writes the samples as Parquet rows. The channel code and the sample rate are stored
// as key/value metadata of the file. CH1 is zero for single channel data.
func WriteParquet(w io.Writer, data Data) error {
	writer := parquet.NewGenericWriter[Row](w,
		parquet.KeyValueMetadata("channel", data.Channel.String()),
		parquet.KeyValueMetadata("sample_rate", strconv.FormatFloat(data.SampleRate, 'g', -1, 64)),
	)

	dual := data.Dual()
	rows := make([]Row, len(data.CH0))
	for i, value := range data.CH0 {
		rows[i] = Row{
			Time: data.timeOf(i),
			CH0:  int32(value),
		}
		if dual {
			rows[i].CH1 = int32(data.CH1[i])
		}
	}

	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		return fmt.Errorf("cannot write parquet rows: %w", err)
	}
	return writer.Close()
}

// SaveParquet writes the samples into the given file.
func SaveParquet(filename string, data Data) error {
	return saveFile(filename, data, WriteParquet)
}

func saveFile(filename string, data Data, write func(io.Writer, Data) error) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := write(f, data); err != nil {
		f.Close()
		return fmt.Errorf("cannot save %s: %w", filename, err)
	}
	return f.Close()
}
