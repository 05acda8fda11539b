package providers

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"

	"github.com/lvonguyen/cloud-bill-calculator/internal/normalizer"
)

// billingRole is the only role the long-term credentials may assume;
// it carries read access to the billing bucket and Cost Explorer.
const billingRole = "CalculateBill"

// Monthly export archives look like
// 950490332792-aws-billing-detailed-line-items-2015-09.csv.zip, with
// the newer schema adding with-resources-and-tags to the name.
var (
	awsBillingFilePattern = regexp.MustCompile(`aws-billing.*-20[0-9][0-9]-[0-9][0-9]\.csv\.zip`)
	awsBillingDatePattern = regexp.MustCompile(`20[0-9][0-9]-[0-9][0-9]`)
)

const awsBillingDateLayout = "2006-01"

// AWSSourceConfig configures one account's billing file store.
type AWSSourceConfig struct {
	AccountName        string
	AccountNumber      string
	CredentialsProfile string
	Region             string
	Bucket             string
}

// BillingFileStore downloads and normalizes the monthly billing CSV
// archives an AWS account exports to S3. It satisfies
// calculator.Source.
type BillingFileStore struct {
	s3client *s3.Client
	ce       *costexplorer.Client
	cfg      AWSSourceConfig
	norm     *normalizer.AWSNormalizer
	logger   *zap.Logger
}

// NewBillingFileStore builds the role-switched S3 and Cost Explorer
// clients for one account. The base profile may only assume the
// account's billing role.
func NewBillingFileStore(ctx context.Context, cfg AWSSourceConfig, logger *zap.Logger) (*BillingFileStore, error) {
	base, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithSharedConfigProfile(cfg.CredentialsProfile),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: loading AWS config for profile %s: %v", ErrAuthentication, cfg.CredentialsProfile, err)
	}

	roleARN := fmt.Sprintf("arn:aws:iam::%s:role/%s", cfg.AccountNumber, billingRole)
	provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(base), roleARN,
		func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "roleSwitchSession"
		})
	base.Credentials = aws.NewCredentialsCache(provider)

	return &BillingFileStore{
		s3client: s3.NewFromConfig(base),
		ce:       costexplorer.NewFromConfig(base),
		cfg:      cfg,
		norm:     normalizer.NewAWSNormalizer(logger),
		logger:   logger,
	}, nil
}

// Cacheable reports true: export rows carry per-row usage dates, so a
// single download serves every narrower alarm window.
func (b *BillingFileStore) Cacheable() bool { return true }

// Fetch lists the bucket, selects the archives covering the window,
// downloads and unpacks them and runs the CSV normalizer.
func (b *BillingFileStore) Fetch(ctx context.Context, from time.Time, _ *time.Time) ([]normalizer.LineItem, error) {
	names, err := b.listObjects(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	selected, err := selectBillingFiles(names, awsBillingFilePattern, awsBillingDatePattern, awsBillingDateLayout, from)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("billing files selected",
		zap.String("account", b.cfg.AccountName),
		zap.Strings("files", selected))

	files := make([]normalizer.RawFile, 0, len(selected))
	for _, name := range selected {
		data, err := b.download(ctx, name)
		if err != nil {
			return nil, err
		}
		csvData, err := unzipBillingArchive(name, data)
		if err != nil {
			return nil, err
		}
		files = append(files, normalizer.RawFile{Name: name, Data: csvData})
	}

	return b.norm.Normalize(files)
}

func (b *BillingFileStore) listObjects(ctx context.Context) ([]string, error) {
	var names []string
	paginator := s3.NewListObjectsV2Paginator(b.s3client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.cfg.Bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing bucket %s: %w", b.cfg.Bucket, err)
		}
		for _, obj := range page.Contents {
			names = append(names, aws.ToString(obj.Key))
		}
	}
	return names, nil
}

func (b *BillingFileStore) download(ctx context.Context, key string) ([]byte, error) {
	out, err := b.s3client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("downloading %s from %s: %w", key, b.cfg.Bucket, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// unzipBillingArchive extracts the CSV whose name matches the archive
// name without the .zip suffix.
func unzipBillingArchive(name string, data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", name, err)
	}
	want := strings.TrimSuffix(path.Base(name), ".zip")
	for _, f := range zr.File {
		if f.Name != want {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("extracting %s from %s: %w", f.Name, name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("archive %s does not contain %s", name, want)
}

// MonthToDateReported fetches the vendor-reported unblended total from
// the first of asOf's month through asOf. Published next to the
// export-derived total so dashboards can spot export drift.
func (b *BillingFileStore) MonthToDateReported(ctx context.Context, asOf time.Time) (float64, error) {
	start := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := asOf
	if !end.After(start) {
		end = start.AddDate(0, 0, 1)
	}

	out, err := b.ce.GetCostAndUsage(ctx, &costexplorer.GetCostAndUsageInput{
		TimePeriod: &cetypes.DateInterval{
			Start: aws.String(start.Format("2006-01-02")),
			End:   aws.String(end.Format("2006-01-02")),
		},
		Granularity: cetypes.GranularityMonthly,
		Metrics:     []string{"UnblendedCost"},
	})
	if err != nil {
		return 0, fmt.Errorf("cost explorer month-to-date: %w", err)
	}

	var total float64
	for _, result := range out.ResultsByTime {
		cost, ok := result.Total["UnblendedCost"]
		if !ok || cost.Amount == nil {
			continue
		}
		amount, err := strconv.ParseFloat(aws.ToString(cost.Amount), 64)
		if err != nil {
			return 0, fmt.Errorf("cost explorer returned non-numeric amount %q: %w", aws.ToString(cost.Amount), err)
		}
		total += amount
	}
	return total, nil
}
