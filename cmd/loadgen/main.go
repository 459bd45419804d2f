package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/polygon-parts/internal/events"
)

func getenv(key, def string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return def
}

func testRedis(ctx context.Context, addr string) error {
	fmt.Println("Redis test")
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
	})
	defer func() { _ = client.Close() }()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	keys, _, err := client.Scan(ctx, 0, "agg:*:gen", 50).Result()
	if err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	fmt.Printf("redis: %d partition generation counters visible\n", len(keys))
	return nil
}

func testPostgres(ctx context.Context, dsn, schema string) error {
	fmt.Println("Postgres test")
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	defer func() { _ = db.Close() }()

	var postgis string
	if err := db.GetContext(ctx, &postgis, `SELECT postgis_lib_version()`); err != nil {
		return fmt.Errorf("postgis version: %w", err)
	}
	var tables int
	if err := db.GetContext(ctx, &tables,
		`SELECT count(*) FROM information_schema.tables WHERE table_schema = $1`, schema); err != nil {
		return fmt.Errorf("count tables: %w", err)
	}
	fmt.Printf("postgis %s, %d tables in schema %s\n", postgis, tables, schema)
	return nil
}

func testKafka(brokers []string, topic string) error {
	fmt.Println("Kafka test")

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.V3_6_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	// a smoke partition name no product can produce, so consumers only bump an unused counter
	ev := events.Event{
		Version:                events.Version,
		Op:                     "update",
		PartsEntityName:        "loadgen_smoke_parts",
		PolygonPartsEntityName: "loadgen_smoke",
		TS:                     time.Now().UTC(),
	}
	msgBytes, _ := json.Marshal(ev)
	part, off, err := prod.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(ev.PolygonPartsEntityName),
		Value: sarama.ByteEncoder(msgBytes),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	fmt.Printf("produced one change event (partition=%d offset=%d)\n", part, off)

	consumer, err := sarama.NewConsumer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("consumer create: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	pc, err := consumer.ConsumePartition(topic, part, off)
	if err != nil {
		return fmt.Errorf("consume partition: %w", err)
	}
	defer func() { _ = pc.Close() }()

	select {
	case m := <-pc.Messages():
		fmt.Println("consumed:", string(m.Value))
	case <-time.After(5 * time.Second):
		fmt.Println("no message consumed (timeout)")
	}
	return nil
}

type ring [][2]float64

func square(x, y, size float64) map[string]any {
	r := ring{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}
	return map[string]any{"type": "Polygon", "coordinates": []ring{r}}
}

// payload builds n random overlapping squares inside a 10 degree window.
func payload(productID string, n int) map[string]any {
	now := time.Now().UTC()
	parts := make([]map[string]any, 0, n)
	for range n {
		res := 0.5 + rand.Float64()*10
		parts = append(parts, map[string]any{
			"sourceName":             "loadgen",
			"imagingTimeBeginUTC":    now.Add(-72 * time.Hour).Format(time.RFC3339),
			"imagingTimeEndUTC":      now.Add(-48 * time.Hour).Format(time.RFC3339),
			"resolutionDegree":       0.0001,
			"resolutionMeter":        res,
			"sourceResolutionMeter":  res,
			"horizontalAccuracyCE90": 5 + rand.Float64()*20,
			"sensors":                []string{"loadgen"},
			"footprint":              square(rand.Float64()*8, rand.Float64()*8, 0.5+rand.Float64()*2),
		})
	}
	return map[string]any{
		"catalogId":      uuid.NewString(),
		"productId":      productID,
		"productType":    "Orthophoto",
		"productVersion": "1.0",
		"partsData":      parts,
	}
}

func call(ctx context.Context, hc *http.Client, method, url string, body any) (int, []byte, time.Duration, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, fmt.Errorf("marshal: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, b, time.Since(start), nil
}

func testService(ctx context.Context, baseURL string, parts int) error {
	fmt.Println("Service test")
	baseURL = strings.TrimRight(baseURL, "/")
	hc := &http.Client{Timeout: 2 * time.Minute}
	productID := fmt.Sprintf("loadgen_%d", time.Now().Unix())

	code, body, took, err := call(ctx, hc, http.MethodPost, baseURL+"/polygonParts", payload(productID, parts))
	if err != nil {
		return err
	}
	if code != http.StatusCreated {
		return fmt.Errorf("create status %d: %s", code, body)
	}
	var created struct {
		PolygonPartsEntityName string `json:"polygonPartsEntityName"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return fmt.Errorf("decode create response: %w", err)
	}
	fmt.Printf("created %s with %d parts in %v\n", created.PolygonPartsEntityName, parts, took)

	code, body, took, err = call(ctx, hc, http.MethodPut, baseURL+"/polygonParts", payload(productID, parts))
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("update status %d: %s", code, body)
	}
	fmt.Printf("updated with %d parts in %v\n", parts, took)

	for i := range 2 {
		code, body, took, err = call(ctx, hc, http.MethodGet, baseURL+"/aggregation/"+created.PolygonPartsEntityName, nil)
		if err != nil {
			return err
		}
		if code != http.StatusOK {
			return fmt.Errorf("aggregation status %d: %s", code, body)
		}
		fmt.Printf("aggregation #%d in %v\n", i+1, took)
	}
	var agg struct {
		ProductBoundingBox string  `json:"productBoundingBox"`
		MinResolutionMeter float64 `json:"minResolutionMeter"`
		MaxResolutionMeter float64 `json:"maxResolutionMeter"`
	}
	_ = json.Unmarshal(body, &agg)
	fmt.Printf("bbox=%s resolutionMeter=[%g,%g]\n", agg.ProductBoundingBox, agg.MinResolutionMeter, agg.MaxResolutionMeter)
	return nil
}

func main() {
	skipInfra := flag.Bool("skip-infra", false, "only exercise the HTTP service")
	parts := flag.Int("parts", 20, "parts per ingestion")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if !*skipInfra {
		redisAddr := getenv("REDIS_ADDR", "localhost:6379")
		dsn := getenv("PG_DSN", "postgres://postgres@localhost:5432/polygon_parts?sslmode=disable")
		schema := getenv("DB_SCHEMA", "polygon_parts")
		brokers := strings.Split(getenv("KAFKA_BROKERS", "localhost:9092"), ",")
		topic := getenv("KAFKA_TOPIC", "polygon-parts-changes")

		if err := testRedis(ctx, redisAddr); err != nil {
			fmt.Println("Redis error:", err)
			os.Exit(1)
		}
		if err := testPostgres(ctx, dsn, schema); err != nil {
			fmt.Println("Postgres error:", err)
			os.Exit(1)
		}
		if err := testKafka(brokers, topic); err != nil {
			fmt.Println("Kafka error:", err)
			os.Exit(1)
		}
	}

	if err := testService(ctx, getenv("SERVICE_URL", "http://localhost:8080"), *parts); err != nil {
		fmt.Println("Service error:", err)
		os.Exit(1)
	}
	fmt.Println("All tests completed")
}
