// vqd is the video quality diagnosis platform: an HTTP service plus
// one-shot CLI commands for frames, videos, live streams and batch runs.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
