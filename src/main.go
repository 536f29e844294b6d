package main

import (
	"github.com/chaw1/incubator-iotdb/src/cli"
	"github.com/chaw1/incubator-iotdb/src/config"
)

func main() {
	config.Config.ElectionTimeoutMin = 5000
	config.Config.ElectionTimeoutMax = 10000
	config.Config.HeartbeatTimeout = 2500
	config.Config.RetryTimeout = 3000
	config.Config.NetworkLatency = 1000
	config.Config.MaxBatchSize = 4
	config.Config.CompactionThreshold = 10
	config.Config.SlotCount = 16
	config.Config.SeedNodes = []string{
		"127.0.0.1:9013",
		"127.0.0.1:9023",
		"127.0.0.1:9033",
	}

	cli.StartCli([]uint{1, 2, 3, 4, 5})
}
