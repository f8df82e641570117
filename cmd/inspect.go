package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"

	"github.com/luma/nearwire/internal/env"
	"github.com/luma/nearwire/protocol"
	"github.com/luma/nearwire/transport"
)

var (
	// Chunk size to decode with, 0 uses NEARWIRE_BUFFER_SIZE
	inspectChunk int
)

func init() {
	flags := InspectCmd.Flags()

	flags.IntVar(&inspectChunk, "chunk", 0, "Decode through a buffer of this many bytes")
}

var InspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Decode captured messages and print them as JSON",
	Long: `Decode captured messages and print them as JSON

The file holds one or more messages exactly as they were sent on the wire.
Use --chunk to decode through a small buffer, e.g. --chunk 1 resumes the
decoder after every byte.

Usage
	nearwire inspect capture.bin --chunk 7

`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := env.LoadConfig(context.Background())
		if err != nil {
			return err
		}

		if inspectChunk > 0 {
			conf.BufferSize = inspectChunk
		}

		codec, err := newCodec(conf)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		summaries, err := inspect(codec, data)
		for _, s := range summaries {
			fmt.Fprintln(cmd.OutOrStdout(), string(s))
		}

		return err
	},
}

// inspect decodes every message in data and summarises each one.
func inspect(codec *transport.Codec, data []byte) ([][]byte, error) {
	dec := codec.NewDecoder(bytes.NewReader(data))
	defer dec.Release()

	var out [][]byte
	for {
		msg, err := dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}

			return out, fmt.Errorf("Failed to decode message %d: %w", len(out), err)
		}

		s, err := summarize(msg)
		if err != nil {
			return out, err
		}

		out = append(out, s)
	}
}

// jsonDoc builds a JSON object one path at a time, keeping the first error.
type jsonDoc struct {
	data []byte
	err  error
}

func (d *jsonDoc) set(path string, value interface{}) {
	if d.err != nil {
		return
	}

	d.data, d.err = sjson.SetBytes(d.data, path, value)
}

func summarize(msg protocol.Message) ([]byte, error) {
	doc := &jsonDoc{data: []byte("{}")}
	doc.set("type", msg.DirectType())

	resp, ok := msg.(*nearResponse)
	if !ok {
		return doc.data, doc.err
	}

	doc.set("cacheId", resp.CacheID)
	doc.set("messageId", resp.MessageID)
	doc.set("topologyVersion", resp.TopologyVersion)

	if v := resp.FutureVersion(); v != nil {
		doc.set("futureVersion", v.String())
	}

	if err := resp.Error(); err != nil {
		doc.set("error", err.Error())
	}

	if keys := resp.FailedKeys(); keys != nil {
		doc.set("failedKeys", keys)
	}

	if keys := resp.RemapKeys(); keys != nil {
		doc.set("remapKeys", keys)
	}

	if ret := resp.ReturnValue(); ret != nil {
		doc.set("returnValue.success", ret.Success)
		if ret.Value != nil {
			doc.set("returnValue.size", humanize.Bytes(uint64(len(*ret.Value))))
		}
	}

	if v := resp.NearVersion(); v != nil {
		doc.set("nearVersion", v.String())
	}

	if idxs := resp.NearValueIndexes(); idxs != nil {
		vals := make([]map[string]interface{}, 0, len(idxs))
		for i, idx := range idxs {
			entry := map[string]interface{}{
				"index":      idx,
				"ttl":        resp.NearTTL(int(idx)),
				"expireTime": resp.NearExpireTime(int(idx)),
			}

			if val := resp.NearValue(i); val != nil {
				entry["size"] = humanize.Bytes(uint64(len(*val)))
			} else {
				entry["null"] = true
			}

			vals = append(vals, entry)
		}

		doc.set("nearValues", vals)
	}

	if skipped := resp.SkippedIndexes(); skipped != nil {
		doc.set("skipped", skipped)
	}

	if doc.err != nil {
		return nil, fmt.Errorf("Failed to summarize message %d: %w", resp.MessageID, doc.err)
	}

	return doc.data, nil
}
