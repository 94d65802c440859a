package headersync

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/btcnode/btcnode/wire"
)

// Persist writes the given headers, in order, to path in the
// CSV-like layout spec §6 allows: one header per line, fields
// version,prevhash,merkleroot,timestamp,bits,nonce.
func Persist(path string, headers []*wire.BlockHeader) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating headers file")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, h := range headers {
		line := fmt.Sprintf("%d,%s,%s,%d,%d,%d\n",
			h.Version,
			hex.EncodeToString(h.PrevBlock[:]),
			hex.EncodeToString(h.MerkleRoot[:]),
			h.Timestamp.Unix(),
			h.Bits,
			h.Nonce,
		)
		if _, err := w.WriteString(line); err != nil {
			return errors.Wrap(err, "writing headers file")
		}
	}
	return w.Flush()
}

// Replay reads a previously Persist-ed headers file. Per spec §9 open
// question (b), a file shorter than expected is not an error: the
// caller replays what is present and continues sync over the network.
func Replay(path string) ([]*wire.BlockHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "opening headers file")
	}
	defer f.Close()

	var headers []*wire.BlockHeader
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256), 4096)
	for scanner.Scan() {
		h, err := parseHeaderLine(scanner.Text())
		if err != nil {
			return nil, errors.Wrap(err, "Persistence")
		}
		headers = append(headers, h)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading headers file")
	}
	return headers, nil
}

func parseHeaderLine(line string) (*wire.BlockHeader, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 6 {
		return nil, errors.Errorf("malformed headers file line %q", line)
	}

	version, err := strconv.ParseInt(fields[0], 10, 32)
	if err != nil {
		return nil, err
	}
	prevBytes, err := hex.DecodeString(fields[1])
	if err != nil {
		return nil, err
	}
	merkleBytes, err := hex.DecodeString(fields[2])
	if err != nil {
		return nil, err
	}
	timestamp, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return nil, err
	}
	bits, err := strconv.ParseUint(fields[4], 10, 32)
	if err != nil {
		return nil, err
	}
	nonce, err := strconv.ParseUint(fields[5], 10, 32)
	if err != nil {
		return nil, err
	}

	h := &wire.BlockHeader{
		Version:   int32(version),
		Timestamp: time.Unix(timestamp, 0),
		Bits:      uint32(bits),
		Nonce:     uint32(nonce),
	}
	copy(h.PrevBlock[:], prevBytes)
	copy(h.MerkleRoot[:], merkleBytes)
	return h, nil
}
