/*
 *	Copyright 2025 The BrainTumor Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// braintumor_checkpoint prints the contents of a brain tumor classifier checkpoint file.
//
// Usage:
//
//	braintumor_checkpoint [-summary] [-params] [-vars] models/brain_tumor_classifier.pth
//
// With no report flag, -summary is assumed.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/neuroscan/braintumor/checkpoint"
	"k8s.io/klog/v2"
)

var (
	flagSummary = flag.Bool("summary", false, "Display the run metadata and a summary of the model size.")
	flagParams  = flag.Bool("params", false, "Lists the hyperparameters of the training run.")
	flagVars    = flag.Bool("vars", false, "Lists the variables of the model, with statistics of their values.")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <checkpoint_file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected exactly one checkpoint file. See 'braintumor_checkpoint -help'.")
		os.Exit(1)
	}
	if !*flagSummary && !*flagParams && !*flagVars {
		*flagSummary = true
	}
	if err := report(args[0]); err != nil {
		klog.Fatalf("Failed to inspect checkpoint: %+v", err)
	}
}

func report(path string) error {
	if !*flagVars {
		header, err := checkpoint.LoadHeader(path)
		if err != nil {
			return err
		}
		printHeader(path, header)
		return nil
	}
	ckpt, err := checkpoint.Load(path)
	if err != nil {
		return err
	}
	printHeader(path, &ckpt.Header)
	return ListVariables(ckpt)
}

func printHeader(path string, header *checkpoint.Header) {
	if *flagSummary {
		Summary(path, header)
	}
	if *flagParams {
		ListParams(header)
	}
}

// Summary prints the run metadata and the size of the model.
func Summary(path string, header *checkpoint.Header) {
	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	table.Row("checkpoint", path)
	table.Row("run id", header.RunID)
	table.Row("created", fmt.Sprintf("%s (%s)", header.CreatedAt.Format(time.RFC3339), humanize.Time(header.CreatedAt)))
	table.Row("format version", fmt.Sprintf("%d", header.Version))
	classes := strings.Join(header.Classes(), ", ")
	if header.ClassNames == nil {
		classes += " (default)"
	}
	table.Row("classes", classes)
	table.Row("input shape", fmt.Sprintf("%d×%d×%d", header.InputShape[0], header.InputShape[1], header.InputShape[2]))
	table.Row("epochs trained", humanize.Comma(int64(header.EpochsTrained)))
	table.Row("best val accuracy", fmt.Sprintf("%.4f", header.BestValAccuracy))

	var numParams int
	var memory uintptr
	for _, v := range header.Variables {
		numParams += v.Shape().Size()
		memory += v.Shape().Memory()
	}
	table.Row("# variables", humanize.Comma(int64(len(header.Variables))))
	table.Row("# parameters", humanize.Comma(int64(numParams)))
	table.Row("# bytes", humanize.Bytes(uint64(memory)))
	fmt.Println(table.Render())
}

// ListParams prints the hyperparameters saved with the checkpoint.
func ListParams(header *checkpoint.Header) {
	fmt.Println(titleStyle.Render("Hyperparameters"))
	table := newPlainTable(lipgloss.Left)
	table.Headers("Scope", "Name", "Type", "Value")
	for _, p := range header.Params {
		value, err := p.Value()
		valueStr := fmt.Sprintf("%v", value)
		if err != nil {
			valueStr = p.JSON
		}
		table.Row(p.Scope, p.Key, p.ValueType, valueStr)
	}
	fmt.Println(table.Render())
}
