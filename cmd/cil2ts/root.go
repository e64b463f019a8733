package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cil2ts/internal/generation"
	"cil2ts/internal/graph"
	"cil2ts/internal/il"
	"cil2ts/internal/metadata"
)

var (
	assemblyFlag   string
	outputFlag     string
	rootsFlag      []string
	configFlag     string
	forceCleanFlag bool
	verboseFlag    bool
)

var rootCmd = &cobra.Command{
	Use:   "cil2ts",
	Short: "Generate TypeScript declarations from a .NET assembly",
	Long: `cil2ts reads the metadata tables and method bytecode of a compiled .NET
assembly and emits TypeScript declaration files for a requested set of root
types and everything they reference.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&assemblyFlag, "assembly", "", "path to the assembly to read")
	rootCmd.Flags().StringVar(&outputFlag, "output", "./output/", "directory the generated files are placed in")
	rootCmd.Flags().StringSliceVar(&rootsFlag, "root", nil, "fully qualified root type, repeatable (e.g. My.Namespace.Widget)")
	rootCmd.Flags().StringVar(&configFlag, "config", "", "path to a TOML config file")
	rootCmd.Flags().BoolVar(&forceCleanFlag, "force-clean", false, "clean a non-empty output directory without asking")
	rootCmd.Flags().BoolVar(&verboseFlag, "verbose", false, "enable debug logging")
}

// fileConfig mirrors the CLI flags. Flags given on the command line take
// precedence over file values.
type fileConfig struct {
	Assembly   string   `toml:"assembly"`
	Output     string   `toml:"output"`
	Roots      []string `toml:"roots"`
	ForceClean bool     `toml:"force_clean"`
	Verbose    bool     `toml:"verbose"`
}

func loadConfig(cmd *cobra.Command) error {
	if configFlag == "" {
		return nil
	}
	data, err := os.ReadFile(configFlag)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	var cfg fileConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", configFlag, err)
	}

	if !cmd.Flags().Changed("assembly") && cfg.Assembly != "" {
		assemblyFlag = cfg.Assembly
	}
	if !cmd.Flags().Changed("output") && cfg.Output != "" {
		outputFlag = cfg.Output
	}
	if !cmd.Flags().Changed("root") && len(cfg.Roots) > 0 {
		rootsFlag = cfg.Roots
	}
	if !cmd.Flags().Changed("force-clean") {
		forceCleanFlag = cfg.ForceClean
	}
	if !cmd.Flags().Changed("verbose") {
		verboseFlag = cfg.Verbose
	}
	return nil
}

func newLogger() (*zap.Logger, error) {
	if verboseFlag {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	return cfg.Build()
}

func run(cmd *cobra.Command, args []string) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}
	if assemblyFlag == "" {
		return fmt.Errorf("no assembly given, use --assembly or the config file")
	}
	if len(rootsFlag) == 0 {
		return fmt.Errorf("no root types given, use --root or the config file")
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	resolver, err := metadata.NewResolver(assemblyFlag, logger)
	if err != nil {
		return fmt.Errorf("opening assembly %s: %w", assemblyFlag, err)
	}

	if err := prepareOutput(outputFlag, forceCleanFlag); err != nil {
		return err
	}

	builder := graph.NewBuilder(resolver, logger)
	for _, root := range rootsFlag {
		namespace, name := splitQualifiedName(root)
		row, found := resolver.FindTypeDef(namespace, name)
		if !found {
			return fmt.Errorf("root type %s not found in %s", root, assemblyFlag)
		}
		if err := builder.Add(metadata.NewToken(metadata.TableTypeDef, row.Index)); err != nil {
			return fmt.Errorf("collecting types from root %s: %w", root, err)
		}
	}

	source := il.NewMetadataSource(resolver)
	bodies := func(method metadata.Token, argNames []string) []string {
		raw, err := resolver.MethodBody(method.Index())
		if err != nil {
			logger.Warn("skipping method body",
				zap.Stringer("method", method), zap.Error(err))
			return nil
		}
		if len(raw) == 0 {
			return nil
		}
		statements, err := il.NewReconstructor(raw, argNames, source, logger).Statements()
		if err != nil {
			logger.Warn("abandoned method body",
				zap.Stringer("method", method), zap.Error(err))
		}
		return statements
	}

	emitter := generation.NewEmitter(resolver, bodies, logger)
	writer := generation.NewWriter(outputFlag, emitter, logger)
	if err := writer.WriteAll(builder.Graph()); err != nil {
		return err
	}

	logger.Info("generation finished",
		zap.Int("types", len(builder.Graph().Types())),
		zap.String("output", outputFlag))
	return nil
}

// splitQualifiedName cuts a dotted type name into namespace and simple name.
func splitQualifiedName(qualified string) (namespace, name string) {
	dot := strings.LastIndex(qualified, ".")
	if dot < 0 {
		return "", qualified
	}
	return qualified[:dot], qualified[dot+1:]
}

// prepareOutput creates the output directory and, when it already holds
// files, empties it. Without force the user is asked first.
func prepareOutput(path string, force bool) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}

	directory, err := os.Open(path)
	if err != nil {
		return err
	}
	defer directory.Close()

	_, err = directory.Readdirnames(1)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}

	if !force {
		fmt.Printf("Output directory %s is not empty. Continuing removes its contents. Proceed? [Y/n] ", path)
		response, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return err
		}
		if strings.ToUpper(strings.TrimSpace(response)) != "Y" {
			return fmt.Errorf("output directory not cleaned, aborting")
		}
	}

	if err := os.RemoveAll(path); err != nil {
		return err
	}
	return os.MkdirAll(path, 0o755)
}
