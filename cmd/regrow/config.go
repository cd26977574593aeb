package main

import (
	"errors"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	configBaseName   = "regrow"
	configFileName   = configBaseName + ".yaml"
	configFolderPath = "."

	envPrefix = "REGROW"

	formatFlagName  = "format"
	extFlagName     = "ext"
	excludeFlagName = "exclude"
	logFileFlagName = "log-file"
	verboseFlagName = "verbose"

	extConfigKey      = "source.ext"
	excludeConfigKey  = "source.exclude"
	pollConfigKey     = "watch.poll"
	intervalConfigKey = "watch.interval"
	snapshotConfigKey = "snapshot.db"
	artifactConfigKey = "bake.db"

	logFilenameKey   = "log.filename"
	logLevelKey      = "log.level"
	logMaxSizeKey    = "log.max_size"
	logMaxBackupsKey = "log.max_backups"
	logMaxAgeKey     = "log.max_age"
	logCompressKey   = "log.compress"

	defaultExt          = ".src"
	defaultPollInterval = 5 * time.Second
	defaultSnapshotDB   = "snapshot.db"
	defaultArtifactDB   = "artifact.db"

	defaultLogFilename   = ".regrow.log"
	defaultLogMaxSize    = 10
	defaultLogMaxBackups = 3
	defaultLogMaxAge     = 28
	defaultLogCompress   = true
)

func init() {
	viper.SetConfigName(configBaseName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configFolderPath)
	viper.SetConfigFile(filepath.Join(configFolderPath, configFileName))
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.SetDefault(extConfigKey, defaultExt)
	viper.SetDefault(excludeConfigKey, []string{})
	viper.SetDefault(pollConfigKey, false)
	viper.SetDefault(intervalConfigKey, defaultPollInterval)
	viper.SetDefault(snapshotConfigKey, defaultSnapshotDB)
	viper.SetDefault(artifactConfigKey, defaultArtifactDB)

	viper.SetDefault(logFilenameKey, defaultLogFilename)
	viper.SetDefault(logLevelKey, int(slog.LevelInfo))
	viper.SetDefault(logMaxSizeKey, defaultLogMaxSize)
	viper.SetDefault(logMaxBackupsKey, defaultLogMaxBackups)
	viper.SetDefault(logMaxAgeKey, defaultLogMaxAge)
	viper.SetDefault(logCompressKey, defaultLogCompress)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return
		}
		return
	}
}

// bindFlagToConfig wires a cobra flag to a viper key so config file and
// environment values feed the flag default.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(errors.New("flag for config key " + key + " not found"))
		return
	}
	cobra.CheckErr(viper.BindPFlag(key, flag))
}

func parseSlogLevel(value string, fallback slog.Level) slog.Level {
	level := strings.ToLower(strings.TrimSpace(value))
	if level == "" {
		return fallback
	}
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if n, err := strconv.Atoi(level); err == nil {
		return slog.Level(n)
	}
	return fallback
}

// configureLogger points the default slog logger at a rotating file so
// command output on stdout stays clean. Verbose flips the level to
// Debug regardless of config.
func configureLogger(logPath string, verbose bool) {
	if strings.TrimSpace(logPath) == "" {
		logPath = viper.GetString(logFilenameKey)
	}
	if strings.TrimSpace(logPath) == "" {
		logPath = defaultLogFilename
	}

	level := parseSlogLevel(viper.GetString(logLevelKey), slog.LevelInfo)
	if verbose {
		level = slog.LevelDebug
	}

	logWriter := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    viper.GetInt(logMaxSizeKey),
		MaxBackups: viper.GetInt(logMaxBackupsKey),
		MaxAge:     viper.GetInt(logMaxAgeKey),
		Compress:   viper.GetBool(logCompressKey),
	}

	handler := slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	})
	slog.SetDefault(slog.New(handler))
}
