// Package decodegfp implements the "decode-gfp" command.
package decodegfp

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli"

	clientv1 "github.com/leptonai/oomanalyzer/client/v1"
	"github.com/leptonai/oomanalyzer/cmd/oomanalyzer/common"
	"github.com/leptonai/oomanalyzer/pkg/gfp"
	"github.com/leptonai/oomanalyzer/pkg/kernelconfig"
	"github.com/leptonai/oomanalyzer/pkg/server"
)

func Command(cliContext *cli.Context) error {
	if cliContext.NArg() != 1 {
		return errors.New("expected exactly one GFP mask, e.g. 0x140dca")
	}
	format, err := common.ParseOutputFormat(cliContext.String("output"))
	if err != nil {
		return err
	}

	req := server.DecodeGFPRequest{
		Mask:          cliContext.Args().First(),
		KernelVersion: cliContext.String("kernel"),
		Config:        cliContext.String("config"),
	}

	var decoded *kernelconfig.Decoded
	if addr := cliContext.String("server"); addr != "" {
		decoded, err = clientv1.DecodeGFP(context.Background(), addr, req)
	} else {
		decoded, err = decodeLocal(cliContext.String("kernel-config-dir"), req)
	}
	if err != nil {
		return err
	}

	return common.Write(cliContext.App.Writer, format, decoded, func(w io.Writer) error {
		return writePlain(w, decoded)
	})
}

func decodeLocal(dir string, req server.DecodeGFPRequest) (*kernelconfig.Decoded, error) {
	registry, err := kernelconfig.NewWithDir(dir)
	if err != nil {
		return nil, err
	}
	decoded, err := registry.DecodeGFP(req.Mask, req.Config, req.KernelVersion)
	if err != nil {
		return nil, err
	}
	return &decoded, nil
}

func writePlain(w io.Writer, d *kernelconfig.Decoded) error {
	if d.Warning != "" {
		if _, err := fmt.Fprintf(w, "%s %s\n", common.WarningSign, d.Warning); err != nil {
			return err
		}
	}
	flags := append([]string(nil), d.Flags...)
	if d.Unknown != "" {
		flags = append(flags, d.Unknown)
	}
	_, err := fmt.Fprintf(w, "%s (%d) with kernel config %s: %s\n", d.Mask, d.Decimal, d.Config, gfp.Format(flags))
	return err
}
