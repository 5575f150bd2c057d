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

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/neuroscan/braintumor/checkpoint"

	_ "github.com/gomlx/gomlx/backends/default"
)

// ListVariables lists the variables of the checkpoint with their shape and, for float variables,
// their mean absolute value (MAV), root-mean-square (RMS) and max absolute value (MaxAV).
func ListVariables(ckpt *checkpoint.Checkpoint) error {
	fmt.Println(titleStyle.Render("Variables"))
	backend, err := backends.New()
	if err != nil {
		return err
	}
	defer backend.Finalize()

	var statsExec *Exec
	err = exceptions.TryCatch[error](func() {
		statsExec = MustNewExec(backend, func(x *Node) (mav, rms, maxAV *Node) {
			x = ConvertDType(x, dtypes.Float64)
			mav = ReduceAllMean(Abs(x))
			rms = Sqrt(ReduceAllMean(Square(x)))
			maxAV = ReduceAllMax(Abs(x))
			return
		}).SetMaxCache(-1)
	})
	if err != nil {
		return err
	}

	table := newPlainTable(lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	table.Headers("Scope", "Name", "Shape", "Size", "Bytes", "Scalar/MAV", "RMS", "MaxAV")
	for _, info := range ckpt.Variables {
		shape := info.Shape()
		value := ckpt.Values[context.VariableParameterNameFromScopeAndName(info.Scope, info.Name)]
		var mav, rms, maxAV string
		switch {
		case shape.Size() == 1:
			mav = fmt.Sprintf("%8v", value.Value())
		case shape.DType.IsFloat():
			err = exceptions.TryCatch[error](func() {
				stats := statsExec.MustExec(value)
				mav = fmt.Sprintf("%.3g", stats[0].Value().(float64))
				rms = fmt.Sprintf("%.3g", stats[1].Value().(float64))
				maxAV = fmt.Sprintf("%.3g", stats[2].Value().(float64))
			})
			if err != nil {
				return err
			}
		}
		table.Row(info.Scope, info.Name, shape.String(),
			humanize.Comma(int64(shape.Size())),
			humanize.Bytes(uint64(shape.Memory())),
			mav, rms, maxAV)
	}
	fmt.Println(table.Render())
	return nil
}
