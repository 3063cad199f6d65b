// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/daviszhen/aggrht/pkg/compute"
	"github.com/daviszhen/aggrht/pkg/util"
)

func init() {
	cobra.OnInitialize(loadConfig)
	initRunCmd()
	initConfigCmd()
}

var aggrCfg = util.DefaultConfig()

///root cmd

var info = "aggr"
var RootCmd = &cobra.Command{
	Use:          "aggr",
	Short:        info,
	Long:         "group by aggregation over csv or parquet files",
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use aggr --help or -h")
	},
}

//run cmd

var runInfo = "run a group by aggregation"
var runCmd = &cobra.Command{
	Use:   "run",
	Short: runInfo,
	Long:  runInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		initRunCfg()
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		defer util.Sync()
		return compute.Run(ctx, aggrCfg, os.Stdout)
	},
}

func initRunCfg() {
	def := util.DefaultConfig()
	viper.SetDefault("aggr.initialCapacity", def.Aggr.InitialCapacity)
	viper.SetDefault("aggr.batchSize", def.Aggr.BatchSize)
	viper.SetDefault("aggr.workers", def.Aggr.Workers)
	viper.SetDefault("arena.pageSize", def.Arena.PageSize)
	viper.SetDefault("input.format", def.Input.Format)
	viper.SetDefault("input.delimiter", def.Input.Delimiter)
	viper.SetDefault("debug.logLevel", def.Debug.LogLevel)
	viper.SetDefault("debug.printResult", def.Debug.PrintResult)
	viper.SetDefault("debug.maxOutputRowCount", def.Debug.MaxOutputRowCount)

	aggrCfg.Aggr.InitialCapacity = viper.GetInt("aggr.initialCapacity")
	aggrCfg.Aggr.BatchSize = viper.GetInt("aggr.batchSize")
	aggrCfg.Aggr.Workers = viper.GetInt("aggr.workers")
	aggrCfg.Aggr.RadixBits = viper.GetInt("aggr.radixBits")
	aggrCfg.Aggr.Presize = viper.GetBool("aggr.presize")
	aggrCfg.Aggr.GroupBy = viper.GetString("aggr.groupBy")
	aggrCfg.Aggr.Aggregates = viper.GetString("aggr.aggregates")
	aggrCfg.Aggr.Query = viper.GetString("aggr.query")
	aggrCfg.Arena.PageSize = viper.GetInt("arena.pageSize")
	aggrCfg.Arena.MemoryLimit = viper.GetInt64("arena.memoryLimit")
	aggrCfg.Input.Path = viper.GetString("input.path")
	aggrCfg.Input.Format = viper.GetString("input.format")
	aggrCfg.Input.Delimiter = viper.GetString("input.delimiter")
	aggrCfg.Input.Schema = viper.GetString("input.schema")
	aggrCfg.Input.HeadLine = viper.GetBool("input.headLine")
	aggrCfg.Debug.LogLevel = viper.GetString("debug.logLevel")
	aggrCfg.Debug.PrintLayout = viper.GetBool("debug.printLayout")
	aggrCfg.Debug.PrintResult = viper.GetBool("debug.printResult")
	aggrCfg.Debug.MaxOutputRowCount = viper.GetInt("debug.maxOutputRowCount")
}

func initRunCmd() {
	RootCmd.AddCommand(runCmd)
	flags := runCmd.Flags()
	flags.String("input", "", "input file path")
	flags.String("format", "csv", "input format. csv, parquet")
	flags.String("delimiter", ",", "csv delimiter")
	flags.String("schema", "", "input columns, e.g. \"a bigint, b varchar, c decimal(10,2)\"")
	flags.Bool("headline", false, "csv input has a head line")
	flags.String("group-by", "", "group columns, comma separated")
	flags.String("agg", "", "aggregates, e.g. \"count(*), sum(b)\"")
	flags.String("query", "", "SELECT ... GROUP BY ... query. overrides --group-by and --agg")
	flags.Int("workers", 1, "worker count")
	flags.Int("radix-bits", 0, "radix partition bits. 0 combines worker tables")
	flags.Int("capacity", compute.INITIAL_CAPACITY, "initial directory capacity")
	flags.Bool("presize", false, "estimate the group count before aggregating")
	flags.Int64("memory-limit", 0, "arena memory limit in bytes. 0 means no limit")
	flags.Bool("layout", false, "print table layout")
	flags.Int("max-rows", -1, "max result rows to print. -1 means all")
	flags.String("log-level", "info", "log level")

	viper.BindPFlag("input.path", flags.Lookup("input"))
	viper.BindPFlag("input.format", flags.Lookup("format"))
	viper.BindPFlag("input.delimiter", flags.Lookup("delimiter"))
	viper.BindPFlag("input.schema", flags.Lookup("schema"))
	viper.BindPFlag("input.headLine", flags.Lookup("headline"))
	viper.BindPFlag("aggr.groupBy", flags.Lookup("group-by"))
	viper.BindPFlag("aggr.aggregates", flags.Lookup("agg"))
	viper.BindPFlag("aggr.query", flags.Lookup("query"))
	viper.BindPFlag("aggr.workers", flags.Lookup("workers"))
	viper.BindPFlag("aggr.radixBits", flags.Lookup("radix-bits"))
	viper.BindPFlag("aggr.initialCapacity", flags.Lookup("capacity"))
	viper.BindPFlag("aggr.presize", flags.Lookup("presize"))
	viper.BindPFlag("arena.memoryLimit", flags.Lookup("memory-limit"))
	viper.BindPFlag("debug.printLayout", flags.Lookup("layout"))
	viper.BindPFlag("debug.maxOutputRowCount", flags.Lookup("max-rows"))
	viper.BindPFlag("debug.logLevel", flags.Lookup("log-level"))
}

//config cmd

var configInfo = "print the effective config as toml"
var configCmd = &cobra.Command{
	Use:   "config",
	Short: configInfo,
	Long:  configInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		initRunCfg()
		return toml.NewEncoder(os.Stdout).Encode(aggrCfg)
	},
}

func initConfigCmd() {
	RootCmd.AddCommand(configCmd)
}

var defCfgFilePaths = []string{".", "etc/aggr"}
var cfgFileName = "aggr.toml"

// loadConfig reads aggr.toml when there is one. Flags alone are enough
// to run.
func loadConfig() {
	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if util.FileIsValid(fpath) {
			viper.SetConfigFile(fpath)
			err := viper.ReadInConfig()
			if err != nil {
				util.Error("viper load config file failed",
					zap.String("fpath", fpath),
					zap.Error(err))
				continue
			}
			util.Debug("config loaded", zap.String("fpath", fpath))
			return
		}
	}
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
