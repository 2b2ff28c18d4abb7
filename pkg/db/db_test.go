package db

import "github.com/smallbiznis/cashstation/internal/config"

func testConfig(dbType string) config.Config {
	return config.Config{
		DBType:     dbType,
		DBHost:     "localhost",
		DBPort:     "5432",
		DBName:     "cashstation",
		DBUser:     "postgres",
		DBPassword: "secret",
		DBSSLMode:  "disable",
		DBPath:     "file::memory:",
	}
}
