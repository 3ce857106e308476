// Package main is the posesolve command: it recovers the pose of an object from its image points.
package main

import (
	"os"

	"go.viam.com/posepnp/logging"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logging.Global().Error(err)
		os.Exit(1)
	}
}
