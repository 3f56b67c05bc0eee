// Package listkernels implements the "list-kernels" command.
package listkernels

import (
	"context"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	clientv1 "github.com/leptonai/oomanalyzer/client/v1"
	"github.com/leptonai/oomanalyzer/cmd/oomanalyzer/common"
	"github.com/leptonai/oomanalyzer/pkg/kernelconfig"
)

func Command(cliContext *cli.Context) error {
	format, err := common.ParseOutputFormat(cliContext.String("output"))
	if err != nil {
		return err
	}

	var infos []kernelconfig.Info
	if addr := cliContext.String("server"); addr != "" {
		infos, err = clientv1.ListKernels(context.Background(), addr)
	} else {
		infos, err = listLocal(cliContext.String("kernel-config-dir"))
	}
	if err != nil {
		return err
	}

	return common.Write(cliContext.App.Writer, format, infos, func(w io.Writer) error {
		writeTable(w, infos)
		return nil
	})
}

func listLocal(dir string) ([]kernelconfig.Info, error) {
	registry, err := kernelconfig.NewWithDir(dir)
	if err != nil {
		return nil, err
	}
	configs := registry.Configs()
	infos := make([]kernelconfig.Info, 0, len(configs))
	for _, c := range configs {
		infos = append(infos, c.Info())
	}
	return infos, nil
}

func writeTable(w io.Writer, infos []kernelconfig.Info) {
	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"ID", "Release", "Name", "Parent", "Costly order", "GFP flags"})
	for _, info := range infos {
		parent := info.Parent
		if info.Fallback {
			parent = "(fallback)"
		}
		table.Append([]string{
			info.ID,
			info.Release,
			info.Name,
			parent,
			strconv.Itoa(info.PageAllocCostlyOrder),
			strconv.Itoa(info.GFPFlags),
		})
	}
	table.Render()
}
