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

package util

type AggrOptions struct {
	InitialCapacity int    `tag:"initialCapacity" toml:"initialCapacity"`
	BatchSize       int    `tag:"batchSize" toml:"batchSize"`
	Workers         int    `tag:"workers" toml:"workers"`
	RadixBits       int    `tag:"radixBits" toml:"radixBits"`
	Presize         bool   `tag:"presize" toml:"presize"`
	GroupBy         string `tag:"groupBy" toml:"groupBy"`
	Aggregates      string `tag:"aggregates" toml:"aggregates"`
	//SELECT ... GROUP BY ... overrides GroupBy and Aggregates
	Query           string `tag:"query" toml:"query"`
}

type ArenaOptions struct {
	PageSize    int   `tag:"pageSize" toml:"pageSize"`
	MemoryLimit int64 `tag:"memoryLimit" toml:"memoryLimit"`
}

type InputOptions struct {
	Path      string `tag:"path" toml:"path"`
	Format    string `tag:"format" toml:"format"`
	Delimiter string `tag:"delimiter" toml:"delimiter"`
	Schema    string `tag:"schema" toml:"schema"`
	HeadLine  bool   `tag:"headLine" toml:"headLine"`
}

type DebugOptions struct {
	LogLevel          string `tag:"logLevel" toml:"logLevel"`
	PrintLayout       bool   `tag:"printLayout" toml:"printLayout"`
	PrintResult       bool   `tag:"printResult" toml:"printResult"`
	MaxOutputRowCount int    `tag:"maxOutputRowCount" toml:"maxOutputRowCount"`
}

type Config struct {
	Aggr  AggrOptions  `tag:"aggr" toml:"aggr"`
	Arena ArenaOptions `tag:"arena" toml:"arena"`
	Input InputOptions `tag:"input" toml:"input"`
	Debug DebugOptions `tag:"debug" toml:"debug"`
}

func DefaultConfig() *Config {
	return &Config{
		Aggr: AggrOptions{
			InitialCapacity: 4096,
			BatchSize:       DefaultVectorSize,
			Workers:         1,
		},
		Arena: ArenaOptions{
			PageSize: 256 * 1024,
		},
		Input: InputOptions{
			Format:    "csv",
			Delimiter: ",",
		},
		Debug: DebugOptions{
			LogLevel:          "info",
			PrintResult:       true,
			MaxOutputRowCount: -1,
		},
	}
}
