//
// Copyright 2024 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// kpkg is the thin CLI shell over the core packages: package, gen-key,
// sign, verify, inspect, and audit. It holds no capability-deciding
// logic of its own; every subcommand's RunE reads its inputs, calls into
// the core packages, and renders the result.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nestybox/kpkg/kpkgerr"
)

var (
	log = logrus.WithField("pkg", "cmd/kpkg")
	fs  = afero.NewOsFs()

	jsonOutput bool
)

func main() {
	root := &cobra.Command{
		Use:           "kpkg",
		Short:         "Build, sign, verify, inspect, and audit .kpkg application packages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON output")

	root.AddCommand(
		newPackageCmd(),
		newGenKeyCmd(),
		newSignCmd(),
		newVerifyCmd(),
		newInspectCmd(),
		newAuditCmd(),
	)

	if err := root.Execute(); err != nil {
		logrus.SetOutput(os.Stderr)
		log.Error(err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a core error to the exit codes fixed by the CLI
// surface: 2 usage, 3 I/O, 4 format, 5 validation, 6 signature, 7 diff.
func exitCodeFor(err error) int {
	switch {
	case kpkgerr.Is(err, kpkgerr.KindIO):
		return 3
	case kpkgerr.Is(err, kpkgerr.KindFormat):
		return 4
	case kpkgerr.Is(err, kpkgerr.KindValidation), kpkgerr.Is(err, kpkgerr.KindAnalysis), kpkgerr.Is(err, kpkgerr.KindPolicy):
		return 5
	case kpkgerr.Is(err, kpkgerr.KindCrypto):
		return 6
	case isDiffNonEmpty(err):
		return 7
	default:
		return 2
	}
}

func isDiffNonEmpty(err error) bool {
	_, ok := err.(*diffNonEmptyError)
	return ok
}
