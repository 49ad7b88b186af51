package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

// Dumper appends raw PCM to a timestamped WAV file for offline debugging.
// The RIFF header is rewritten with the final sizes on Close.
type Dumper struct {
	file       *os.File
	sampleRate int
	channels   int
	written    int
}

// NewDumper creates dump_<name>_<timestamp>.wav in the working directory.
func NewDumper(name string, sampleRate, channels int) (*Dumper, error) {
	filename := fmt.Sprintf("dump_%s_%s.wav", name, time.Now().Format("20060102_150405"))
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create dump file: %w", err)
	}

	d := &Dumper{file: file, sampleRate: sampleRate, channels: channels}
	if err := d.writeHeader(); err != nil {
		file.Close()
		return nil, err
	}
	return d, nil
}

func (d *Dumper) Write(pcm []byte) error {
	n, err := d.file.Write(pcm)
	d.written += n
	return err
}

func (d *Dumper) Close() error {
	if _, err := d.file.Seek(0, 0); err != nil {
		d.file.Close()
		return err
	}
	if err := d.writeHeader(); err != nil {
		d.file.Close()
		return err
	}
	return d.file.Close()
}

func (d *Dumper) writeHeader() error {
	blockAlign := d.channels * 2
	header := make([]byte, WAVHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+d.written))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1)
	binary.LittleEndian.PutUint16(header[22:24], uint16(d.channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(d.sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(d.sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(d.written))

	_, err := d.file.Write(header)
	return err
}
