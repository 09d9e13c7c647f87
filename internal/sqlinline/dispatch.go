package sqlinline

const QLedgerEnsureSchema = `--sql caa6065e-ec60-4433-95c8-bad262a51820
create table if not exists dispatch_attempts (
    id uuid primary key,
    job_id text not null,
    job_folder text not null,
    job_type text not null,
    source text not null,
    outcome text not null,
    error_code text not null default '',
    status_code integer not null default 0,
    detail text not null default '',
    attempted_at timestamptz not null default now()
);
create index if not exists dispatch_attempts_job_idx on dispatch_attempts (job_id, attempted_at);
`

const QLedgerInsertAttempt = `--sql 948cb487-771d-4835-b7e3-8519fa15eb4b
insert into dispatch_attempts (id, job_id, job_folder, job_type, source, outcome, error_code, status_code, detail, attempted_at)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`

const QLedgerListAttempts = `--sql 3c279bab-1c31-483f-83f1-eecaafffd474
select id, job_id, job_folder, job_type, source, outcome, error_code, status_code, detail, attempted_at
from dispatch_attempts
where job_id = $1
order by attempted_at asc, id asc;
`

const QLedgerCountOutcomes = `--sql b9cc9964-ab68-4fb5-8ed0-2d6baa6a0af1
select outcome, count(*)
from dispatch_attempts
where attempted_at >= $1
group by outcome
order by outcome;
`
