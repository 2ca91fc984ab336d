// cmd/tools/catalog-seeder/main.go
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"proposal-workers/internal/common/config"
	"proposal-workers/internal/common/database"
	"proposal-workers/internal/core/catalog"
	"proposal-workers/internal/models"
)

func main() {
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	seedCmd := flag.NewFlagSet("seed", flag.ExitOnError)

	section := listCmd.String("section", "", "Only list this section (e.g., impact)")

	esURL := seedCmd.String("es", "http://localhost:9200", "Elasticsearch address")
	index := seedCmd.String("index", "grant-questions", "Target index")
	recreate := seedCmd.Bool("recreate", false, "Delete the index before seeding")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	bank := catalog.DefaultBank()

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		if err := validateBank(bank); err != nil {
			fmt.Printf("Validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Question bank is valid.")

	case "list":
		listCmd.Parse(os.Args[2:])
		if *section != "" && !catalog.IsSection(*section) {
			fmt.Printf("Error: unknown section %q\n", *section)
			os.Exit(1)
		}
		listBank(bank, *section)

	case "seed":
		seedCmd.Parse(os.Args[2:])
		if err := validateBank(bank); err != nil {
			fmt.Printf("Refusing to seed an invalid bank: %v\n", err)
			os.Exit(1)
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := seed(ctx, *esURL, *index, *recreate, bank)
		if err != nil {
			fmt.Printf("Error seeding index: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Indexed %d questions into %s\n", n, *index)

	default:
		help()
		os.Exit(1)
	}
}

func help() {
	fmt.Println("Usage: catalog-seeder <command> [arguments]")
	fmt.Println("Commands:")
	fmt.Println("  validate    Check the built-in question bank")
	fmt.Println("  list        Print questions per section")
	fmt.Println("  seed        Load the question bank into Elasticsearch")
}

// validateBank checks every section is present and fields are unique.
func validateBank(bank []models.Section) error {
	present := map[string]bool{}
	for _, s := range bank {
		present[s.Key] = true
		if len(s.Questions) == 0 {
			return fmt.Errorf("section %s has no questions", s.Key)
		}
		for _, q := range s.Questions {
			if q.ID == "" || q.Field == "" || q.Prompt == "" {
				return fmt.Errorf("section %s: question %q is missing id, field or prompt", s.Key, q.ID)
			}
		}
	}
	for _, info := range catalog.Order {
		if !present[info.Key] {
			return fmt.Errorf("section %s is missing", info.Key)
		}
	}
	_, err := catalog.BuildIndex(bank)
	return err
}

func listBank(bank []models.Section, only string) {
	for _, s := range bank {
		if only != "" && s.Key != only {
			continue
		}
		fmt.Printf("%s (%d)\n", catalog.Title(s.Key), len(s.Questions))
		for _, q := range s.Questions {
			fmt.Printf("  %-7s %-28s %5d  %s\n", q.ID, q.Field, q.CharacterLimit, q.Prompt)
		}
	}
}

func seed(ctx context.Context, esURL, index string, recreate bool, bank []models.Section) (int, error) {
	client, err := database.NewElasticsearch(config.ElasticsearchConfig{URL: esURL})
	if err != nil {
		return 0, err
	}
	es := client.Client

	if recreate {
		res, err := es.Indices.Delete([]string{index}, es.Indices.Delete.WithContext(ctx))
		if err != nil {
			return 0, fmt.Errorf("delete index: %w", err)
		}
		res.Body.Close()
	}

	if _, err := client.EnsureIndex(ctx, index, catalog.QuestionIndexMapping); err != nil {
		return 0, err
	}

	docs := catalog.Documents(bank)
	for _, doc := range docs {
		body, err := json.Marshal(doc)
		if err != nil {
			return 0, err
		}
		req := esapi.IndexRequest{
			Index:      index,
			DocumentID: doc.ID,
			Body:       bytes.NewReader(body),
		}
		res, err := req.Do(ctx, es)
		if err != nil {
			return 0, fmt.Errorf("index %s: %w", doc.ID, err)
		}
		if res.IsError() {
			res.Body.Close()
			return 0, fmt.Errorf("index %s: %s", doc.ID, res.String())
		}
		res.Body.Close()
	}

	res, err := es.Indices.Refresh(es.Indices.Refresh.WithIndex(index), es.Indices.Refresh.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("refresh: %w", err)
	}
	res.Body.Close()
	return len(docs), nil
}
