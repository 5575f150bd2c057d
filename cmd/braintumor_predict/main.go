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

// braintumor_predict classifies one brain MRI scan with a model saved by braintumor_train.
//
// Usage:
//
//	braintumor_predict -image=dataset/Testing/glioma/Te-gl_0010.jpg
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/janpfeifer/must"
	"github.com/neuroscan/braintumor/classifier"
	"github.com/neuroscan/braintumor/mri"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagImage        = flag.String("image", "", "Image to classify (required).")
	flagModelPath    = flag.String("model_path", "models/brain_tumor_classifier.pth", "Checkpoint file of the trained model.")
	flagBackend      = flag.String("backend", "", "Backend configuration, as in $GOMLX_BACKEND. Empty uses the default.")
	flagPathFallback = flag.Bool("path_fallback", true, "If the image doesn't exist, try replacing \"dataset/\" with \"Dataset/\" in its path.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagImage == "" {
		klog.Errorf("Flag -image is required. See 'braintumor_predict -help'.")
		os.Exit(1)
	}

	if *flagBackend != "" {
		must.M(os.Setenv(backends.ConfigEnvVar, *flagBackend))
	}
	backend := backends.MustNew()
	defer backend.Finalize()

	c, err := classifier.New(backend, fsutil.MustReplaceTildeInDir(*flagModelPath))
	if err != nil {
		klog.Fatalf("Failed to load model: %+v", err)
	}
	if !*flagPathFallback {
		c.WithImageResolver(mri.NoFallback)
	}
	prediction, err := c.PredictFile(fsutil.MustReplaceTildeInDir(*flagImage))
	if err != nil {
		klog.Fatalf("Failed to classify %q: %+v", *flagImage, err)
	}

	fmt.Printf("Predicted Class: %s\n", prediction.ClassName)
	fmt.Printf("Confidence: %.2f%%\n", prediction.Confidence)
	fmt.Printf("Raw Logits: %v\n", prediction.Logits)
	fmt.Printf("Softmax Probabilities: %v\n", prediction.Probabilities)
}
